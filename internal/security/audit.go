package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/app"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// AuditService evaluates the deployment's security posture. Everything this
// service protects hinges on two keys and an email hop, so the checks focus
// there.
type AuditService struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. All dependencies are
// optional; missing inputs degrade specific checks to warnings.
func NewAuditService(db *gorm.DB, cfg *app.Config) *AuditService {
	return &AuditService{
		db:  db,
		cfg: cfg,
		now: time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkDatabase(ctx),
		s.checkSigningKey(),
		s.checkEncryptionKey(),
		s.checkTokenLifetime(),
		s.checkLinkTransport(),
		s.checkMailTransport(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}

	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkDatabase(ctx context.Context) Check {
	if s.db == nil {
		return Check{
			ID:          "token_store_reachable",
			Status:      StatusWarn,
			Message:     "Database unavailable, unable to verify the token store.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return Check{
			ID:          "token_store_reachable",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Token store ping failed: %v", err),
			Remediation: "Without the store no link can be issued or redeemed.",
		}
	}

	return Check{
		ID:      "token_store_reachable",
		Status:  StatusPass,
		Message: "Token store reachable.",
	}
}

func (s *AuditService) checkSigningKey() Check {
	if s.cfg == nil {
		return configMissing("link_signing_key")
	}

	length := len(strings.TrimSpace(s.cfg.Auth.MagicLink.SigningKey))

	switch {
	case length == 0:
		return Check{
			ID:          "link_signing_key",
			Status:      StatusFail,
			Message:     "Link signing key is not configured.",
			Remediation: "Set MAGLINK_AUTH_MAGIC_LINK_SIGNING_KEY to a random value of at least 32 bytes.",
		}
	case length < 32:
		return Check{
			ID:          "link_signing_key",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Link signing key is short (%d bytes).", length),
			Remediation: "Use a randomly generated signing key of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "link_signing_key",
			Status:  StatusPass,
			Message: fmt.Sprintf("Link signing key length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkEncryptionKey() Check {
	if s.cfg == nil {
		return configMissing("link_encryption_key")
	}

	value := strings.TrimSpace(s.cfg.Auth.MagicLink.EncryptionKey)
	if value == "" {
		return Check{
			ID:          "link_encryption_key",
			Status:      StatusFail,
			Message:     "Link encryption key is not configured.",
			Remediation: "Set MAGLINK_AUTH_MAGIC_LINK_ENCRYPTION_KEY to a 32-byte random value.",
		}
	}

	length, err := app.KeyByteLength(value)
	if err != nil || length != 32 {
		return Check{
			ID:          "link_encryption_key",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Link encryption key decodes to %d bytes, need 32.", length),
			Remediation: "AES-256 requires exactly 32 key bytes.",
		}
	}

	return Check{
		ID:      "link_encryption_key",
		Status:  StatusPass,
		Message: "Link encryption key configured.",
	}
}

func (s *AuditService) checkTokenLifetime() Check {
	if s.cfg == nil {
		return configMissing("link_lifetime")
	}

	const maxRecommended = 24 * time.Hour

	ttl := s.cfg.Auth.MagicLink.TokenLifetime
	if ttl <= 0 {
		return Check{
			ID:          "link_lifetime",
			Status:      StatusWarn,
			Message:     "Link lifetime is not configured; using the default.",
			Remediation: "Set MAGLINK_AUTH_MAGIC_LINK_TOKEN_LIFETIME explicitly.",
		}
	}

	if ttl > maxRecommended {
		return Check{
			ID:          "link_lifetime",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Link lifetime (%s) exceeds recommended maximum (%s).", ttl, maxRecommended),
			Remediation: "Links sit in inboxes; keep their lifetime short.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      "link_lifetime",
		Status:  StatusPass,
		Message: fmt.Sprintf("Link lifetime is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkLinkTransport() Check {
	if s.cfg == nil {
		return configMissing("link_base_url")
	}

	base := strings.TrimSpace(s.cfg.Auth.MagicLink.BaseURL)
	switch {
	case base == "":
		return Check{
			ID:          "link_base_url",
			Status:      StatusWarn,
			Message:     "Link base URL is not configured; raw tokens will be mailed.",
			Remediation: "Set MAGLINK_AUTH_MAGIC_LINK_BASE_URL to the public redemption endpoint.",
		}
	case strings.HasPrefix(base, "https://"):
		return Check{
			ID:      "link_base_url",
			Status:  StatusPass,
			Message: "Links are redeemed over HTTPS.",
		}
	case strings.HasPrefix(base, "http://localhost") || strings.HasPrefix(base, "http://127.0.0.1"):
		return Check{
			ID:      "link_base_url",
			Status:  StatusWarn,
			Message: "Link base URL points at localhost over plain HTTP.",
			Details: map[string]any{"base_url": base},
		}
	default:
		return Check{
			ID:          "link_base_url",
			Status:      StatusFail,
			Message:     "Links are redeemed over plain HTTP.",
			Remediation: "A link in transit is a credential; serve redemption over HTTPS.",
			Details:     map[string]any{"base_url": base},
		}
	}
}

func (s *AuditService) checkMailTransport() Check {
	if s.cfg == nil {
		return configMissing("mail_transport")
	}

	smtp := s.cfg.Email.SMTP
	switch {
	case !smtp.Enabled:
		return Check{
			ID:          "mail_transport",
			Status:      StatusWarn,
			Message:     "SMTP delivery is disabled; no link will reach a user.",
			Remediation: "Enable and configure email.smtp for production use.",
		}
	case !smtp.UseTLS:
		return Check{
			ID:          "mail_transport",
			Status:      StatusWarn,
			Message:     "SMTP delivery does not use STARTTLS.",
			Remediation: "Enable email.smtp.use_tls so links are not mailed in cleartext.",
		}
	default:
		return Check{
			ID:      "mail_transport",
			Status:  StatusPass,
			Message: "SMTP delivery configured with STARTTLS.",
		}
	}
}

func configMissing(id string) Check {
	return Check{
		ID:          id,
		Status:      StatusWarn,
		Message:     "Configuration not loaded, unable to evaluate.",
		Remediation: "Load configuration before running the security audit.",
	}
}
