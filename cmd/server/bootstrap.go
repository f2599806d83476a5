package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/api"
	"github.com/charlesng35/maglink/internal/app"
	"github.com/charlesng35/maglink/internal/app/maintenance"
	iauth "github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/database"
	"github.com/charlesng35/maglink/internal/ratelimit"
	"github.com/charlesng35/maglink/internal/security"
	"github.com/charlesng35/maglink/internal/services"
	"github.com/charlesng35/maglink/pkg/logger"
	"github.com/charlesng35/maglink/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	TokenStore *services.TokenStore
	MagicLinks *services.MagicLinkService
	Users      *services.UserService
	Audit      *services.AuditService
	Sweeper    *maintenance.Sweeper
	Rates      *ratelimit.MemoryStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, services, maintenance jobs and
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	reportSecurityPosture(ctx, stack.DB, cfg, log)

	codecCfg, err := cfg.Auth.CodecConfig()
	if err != nil {
		return nil, err
	}

	codec, err := iauth.NewTokenCodec(codecCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise token codec: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.TokenStore, err = services.NewTokenStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise token store: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; links will be issued but not delivered")
	}

	stack.MagicLinks, err = services.NewMagicLinkService(codec, stack.TokenStore, mailer,
		services.WithLinkBaseURL(cfg.Auth.MagicLink.BaseURL),
		services.WithLinkSubject(cfg.Auth.MagicLink.EmailSubject),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise magic link service: %w", err)
	}

	stack.Users, err = services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	stack.Audit, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	var rates *ratelimit.DatabaseStore
	var limiter ratelimit.CounterStore
	if strings.EqualFold(cfg.RateLimit.Backend, "database") {
		rates = ratelimit.NewDatabaseStore(stack.DB)
		limiter = rates
	} else if cfg.RateLimit.Enabled {
		stack.Rates = ratelimit.NewMemoryStore()
		limiter = stack.Rates
	}

	stack.Sweeper = maintenance.NewSweeper(stack.TokenStore, stack.Audit, rates,
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	)
	if err := stack.Sweeper.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.DB, api.Services{
		MagicLinks:  stack.MagicLinks,
		Users:       stack.Users,
		Audit:       stack.Audit,
		JWT:         jwtSvc,
		RateLimiter: limiter,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Rates != nil {
		s.Rates.Stop()
	}

	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Sweeper.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}

	if s.TokenStore != nil {
		if err := s.TokenStore.Shutdown(); err != nil {
			log.Warn("token store shutdown", zap.Error(err))
		}
		return
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// reportSecurityPosture logs the startup security audit. Failures do not
// halt boot; the codec constructor enforces the hard requirements.
func reportSecurityPosture(ctx context.Context, db *gorm.DB, cfg *app.Config, log *zap.Logger) {
	result := security.NewAuditService(db, cfg).Run(ctx)
	for _, check := range result.Checks {
		switch check.Status {
		case security.StatusFail:
			log.Warn("security audit failure",
				zap.String("check", check.ID),
				zap.String("message", check.Message),
				zap.String("remediation", check.Remediation),
			)
		case security.StatusWarn:
			log.Info("security audit warning",
				zap.String("check", check.ID),
				zap.String("message", check.Message),
			)
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
