package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/models"
	"github.com/charlesng35/maglink/pkg/mail"
)

// openServiceTestDB returns an isolated in-memory database. A single open
// connection keeps sqlite transactions serialised, which the consume race
// tests rely on.
func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.MagicLinkToken{}, &models.AuthEvent{}))

	return db
}

// recordingMailer captures outbound messages instead of delivering them.
type recordingMailer struct {
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}
