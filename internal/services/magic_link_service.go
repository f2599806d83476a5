package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/pkg/logger"
	"github.com/charlesng35/maglink/pkg/mail"
)

const defaultLinkSubject = "Your sign-in link"

// MagicLinkOption customises the MagicLinkService.
type MagicLinkOption func(*MagicLinkService)

// WithLinkBaseURL sets the base URL the token is appended to as the `code`
// query parameter.
func WithLinkBaseURL(base string) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.baseURL = strings.TrimRight(base, "/")
	}
}

// WithLinkSubject overrides the email subject line.
func WithLinkSubject(subject string) MagicLinkOption {
	return func(s *MagicLinkService) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithLinkClock injects a custom time source.
func WithLinkClock(clock func() time.Time) MagicLinkOption {
	return func(s *MagicLinkService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// MagicLinkService drives the token lifecycle: it asks the codec to encode,
// hands the server-side record to the store, mails the link, and later
// consumes and validates presented codes.
type MagicLinkService struct {
	codec   *auth.TokenCodec
	store   *TokenStore
	mailer  mail.Mailer
	baseURL string
	subject string
	now     func() time.Time
	log     *zap.Logger
}

// NewMagicLinkService constructs the service with its collaborators.
func NewMagicLinkService(codec *auth.TokenCodec, store *TokenStore, mailer mail.Mailer, opts ...MagicLinkOption) (*MagicLinkService, error) {
	if codec == nil {
		return nil, errors.New("magic link service: codec is required")
	}
	if store == nil {
		return nil, errors.New("magic link service: store is required")
	}

	service := &MagicLinkService{
		codec:   codec,
		store:   store,
		mailer:  mailer,
		subject: defaultLinkSubject,
		now:     time.Now,
		log:     logger.WithModule("magic-link"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// IssueLink encodes a fresh token for the address, persists its server-side
// record, and emails the redemption link. The returned link embeds the token
// as the `code` query parameter. Storage and mailer failures surface to the
// caller so the user can be told the link was not sent.
func (s *MagicLinkService) IssueLink(ctx context.Context, email string) (string, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return "", errors.New("magic link service: email is required")
	}

	// Opportunistic hygiene; growth bounding only, not correctness.
	if _, err := s.store.PurgeExpired(ctx, s.now()); err != nil {
		s.log.Warn("purge before issuance failed", zap.Error(err))
	}

	issued, err := s.codec.Encode(email)
	if err != nil {
		return "", fmt.Errorf("magic link service: encode: %w", err)
	}

	if err := s.store.Issue(ctx, issued.Token, issued.Record); err != nil {
		return "", err
	}

	link := s.redemptionLink(issued.Token)

	if s.mailer != nil {
		message := mail.Message{
			To:      email,
			Subject: s.subject,
			Body:    s.linkBody(link),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return "", fmt.Errorf("magic link service: send email: %w", mailErr)
		}
	}

	return link, nil
}

// Redeem consumes the presented code and validates it against the stored
// record. The store row is deleted on first presentation regardless of the
// validation outcome; a second presentation of the same code always fails.
// Every validation failure returns auth.ErrTokenInvalid; storage failures
// stay distinct.
func (s *MagicLinkService) Redeem(ctx context.Context, code string) (string, error) {
	ctx = ensureContext(ctx)

	if code == "" {
		return "", auth.ErrTokenInvalid
	}

	if _, err := s.store.PurgeExpired(ctx, s.now()); err != nil {
		s.log.Warn("purge before redemption failed", zap.Error(err))
	}

	record, err := s.store.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			s.log.Debug("redemption for unknown or consumed token")
			return "", auth.ErrTokenInvalid
		}
		return "", err
	}

	email, err := s.codec.Decode(code, *record)
	if err != nil {
		return "", err
	}

	return email, nil
}

func (s *MagicLinkService) redemptionLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s?code=%s", s.baseURL, url.QueryEscape(token))
}

func (s *MagicLinkService) linkBody(link string) string {
	return fmt.Sprintf("Click the link below to sign in:\n%s\n\nThe link can be used once and expires shortly. If you did not request it, you can ignore this message.\n", link)
}
