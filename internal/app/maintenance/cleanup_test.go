package maintenance

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/models"
	"github.com/charlesng35/maglink/internal/ratelimit"
	"github.com/charlesng35/maglink/internal/services"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.MagicLinkToken{},
		&models.AuthEvent{},
		&models.RateCounter{},
	))
	return db
}

func issueToken(t *testing.T, store *services.TokenStore, token string, expires time.Time) {
	t.Helper()
	require.NoError(t, store.Issue(context.Background(), token, auth.TokenRecord{
		IV:        bytes.Repeat([]byte{0x2}, 16),
		Email:     "user@example.org",
		Entropy:   "ZQ==",
		ExpiresAt: expires.Unix(),
	}))
}

func TestRunOnceSweepsExpiredTokens(t *testing.T) {
	db := openTestDB(t)

	store, err := services.NewTokenStore(db)
	require.NoError(t, err)

	current := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	issueToken(t, store, "stale.token.sig", current.Add(-time.Minute))
	issueToken(t, store, "live.token.sig", current.Add(time.Hour))

	sweeper := NewSweeper(store, nil, nil, WithNow(func() time.Time { return current }))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.MagicLinkToken{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var remaining models.MagicLinkToken
	require.NoError(t, db.First(&remaining).Error)
	require.Equal(t, "live.token.sig", remaining.Token)
}

func TestRunOncePrunesOldEvents(t *testing.T) {
	db := openTestDB(t)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	old := models.AuthEvent{Email: "old@example.org", Action: services.ActionLinkRequested, Result: services.ResultSuccess}
	require.NoError(t, db.Create(&old).Error)

	current := time.Now().AddDate(0, 0, 10)
	sweeper := NewSweeper(nil, audit, nil,
		WithNow(func() time.Time { return current }),
		WithAuditRetentionDays(7),
	)
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.AuthEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRunOnceDropsStaleRateCounters(t *testing.T) {
	db := openTestDB(t)

	rates := ratelimit.NewDatabaseStore(db)
	_, _, err := rates.Increment(context.Background(), "ip|/api/auth/magic-link", time.Minute)
	require.NoError(t, err)

	sweeper := NewSweeper(nil, nil, rates,
		WithNow(func() time.Time { return time.Now().Add(time.Hour) }))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.RateCounter{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestStartRegistersJobs(t *testing.T) {
	db := openTestDB(t)

	store, err := services.NewTokenStore(db)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	sweeper := NewSweeper(store, audit, ratelimit.NewDatabaseStore(db))
	require.NoError(t, sweeper.Start())

	<-sweeper.Stop().Done()
}
