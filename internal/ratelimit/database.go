package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/maglink/internal/models"
)

// DatabaseStore implements CounterStore on the primary SQL database so that
// every replica shares the same windows.
type DatabaseStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewDatabaseStore constructs a database-backed counter store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, clock: time.Now}
}

// Increment atomically bumps the counter for the supplied key, starting a
// fresh window when the previous one has elapsed.
func (s *DatabaseStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("ratelimit: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()
	expiry := now.Add(window)

	var count int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter models.RateCounter
		query := tx
		// sqlite serialises writers on its own and rejects FOR UPDATE.
		if tx.Dialector.Name() != "sqlite" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := query.Take(&counter, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			counter = models.RateCounter{
				Key:       key,
				Count:     count,
				ExpiresAt: expiry,
			}
			return tx.Create(&counter).Error
		}
		if err != nil {
			return err
		}

		if counter.ExpiresAt.Before(now) {
			count = 1
			counter.Count = count
			counter.ExpiresAt = expiry
		} else {
			count = counter.Count + 1
			counter.Count = count
			expiry = counter.ExpiresAt
		}

		return tx.Save(&counter).Error
	})
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: increment: %w", err)
	}

	return count, expiry.Sub(now), nil
}

// PurgeExpired deletes counters whose windows have elapsed and reports how
// many rows were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil {
		return 0, errors.New("ratelimit: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := s.db.WithContext(ctx).Delete(&models.RateCounter{}, "expires_at < ?", now)
	if res.Error != nil {
		return 0, fmt.Errorf("ratelimit: purge expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}
