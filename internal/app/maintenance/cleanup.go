package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/maglink/internal/ratelimit"
	"github.com/charlesng35/maglink/internal/services"
	"github.com/charlesng35/maglink/pkg/logger"
	"github.com/charlesng35/maglink/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultTokenSpec          = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Sweeper coordinates background maintenance: purging expired link tokens,
// pruning old auth events, and dropping stale rate counters. Purges before
// issuance and redemption keep the token table correct on their own; the
// sweep bounds its growth on idle deployments.
type Sweeper struct {
	tokens    *services.TokenStore
	audit     *services.AuditService
	rates     *ratelimit.DatabaseStore
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	tokenSchedule string
	auditSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long auth events are retained.
func WithAuditRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithTokenSchedule overrides the cron specification for token purges.
func WithTokenSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.tokenSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for event pruning.
func WithAuditSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewSweeper(tokens *services.TokenStore, audit *services.AuditService, rates *ratelimit.DatabaseStore, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		tokens:        tokens,
		audit:         audit,
		rates:         rates,
		now:           time.Now,
		retention:     defaultAuditRetentionDays,
		tokenSchedule: defaultTokenSpec,
		auditSchedule: defaultAuditSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.tokens == nil && s.audit == nil && s.rates == nil {
		return nil
	}

	if s.tokens != nil || s.rates != nil {
		if _, err := s.cron.AddFunc(s.tokenSchedule, func() {
			if err := s.sweepExpired(context.Background()); err != nil {
				s.log.Warn("token sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			if err := s.pruneEvents(context.Background()); err != nil {
				s.log.Warn("event prune failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Used in tests and
// during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	errs = multierr.Append(errs, s.sweepExpired(ctx))
	if s.audit != nil && s.retention > 0 {
		errs = multierr.Append(errs, s.pruneEvents(ctx))
	}
	return errs
}

func (s *Sweeper) sweepExpired(ctx context.Context) error {
	now := s.now()

	var errs error

	if s.tokens != nil {
		removed, err := s.tokens.PurgeExpired(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			metrics.TokensPurged.Add(float64(removed))
			s.log.Debug("purged expired tokens", zap.Int64("count", removed))
		}
	}

	if s.rates != nil {
		if _, err := s.rates.PurgeExpired(ctx, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (s *Sweeper) pruneEvents(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.retention)
	removed, err := s.audit.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.log.Debug("pruned auth events", zap.Int64("count", removed))
	}
	return nil
}
