package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/database"
	"github.com/charlesng35/maglink/internal/models"
)

// ErrTokenNotFound signals that no record exists for the presented token,
// either because it was never issued, already consumed, or purged. Callers
// treat it identically to any other validation failure.
var ErrTokenNotFound = errors.New("token store: not found")

// TokenStore persists the server-side half of issued magic links and
// enforces single use through delete-on-read.
type TokenStore struct {
	db *gorm.DB
}

// NewTokenStore constructs a TokenStore using the provided database handle.
func NewTokenStore(db *gorm.DB) (*TokenStore, error) {
	if db == nil {
		return nil, errors.New("token store: db is required")
	}
	return &TokenStore{db: db}, nil
}

// Issue inserts the record for a freshly encoded token. Storage failures
// propagate unchanged; they are infrastructure errors, not token errors.
func (s *TokenStore) Issue(ctx context.Context, token string, record auth.TokenRecord) error {
	ctx = ensureContext(ctx)

	if token == "" {
		return errors.New("token store: token is required")
	}

	row := models.MagicLinkToken{
		Token:     token,
		IV:        record.IV,
		Email:     record.Email,
		Entropy:   record.Entropy,
		ExpiresAt: record.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("token store: issue: %w", err)
	}
	return nil
}

// Consume looks up a record by exact token string and deletes it in the
// same transaction. The delete's affected-row count decides the winner when
// two redemptions race on the same token: the loser gets ErrTokenNotFound
// and fails closed. The record is removed whether or not the token later
// validates.
func (s *TokenStore) Consume(ctx context.Context, token string) (*auth.TokenRecord, error) {
	ctx = ensureContext(ctx)

	var row models.MagicLinkToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "token = ?", token).Error; err != nil {
			return err
		}

		res := tx.Delete(&models.MagicLinkToken{}, "token = ?", token)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token store: consume: %w", err)
	}

	return &auth.TokenRecord{
		IV:        row.IV,
		Email:     row.Email,
		Entropy:   row.Entropy,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// PurgeExpired deletes every record whose expiry has elapsed and reports how
// many rows were removed. Idempotent; zero matching rows is not an error.
func (s *TokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).Delete(&models.MagicLinkToken{}, "expires_at < ?", now.Unix())
	if res.Error != nil {
		return 0, fmt.Errorf("token store: purge expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Shutdown flushes and releases the underlying connection. The whole
// authentication flow is a synchronous request-response exchange, so this is
// the store's only lifecycle boundary.
func (s *TokenStore) Shutdown() error {
	return database.Close(s.db)
}
