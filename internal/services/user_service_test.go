package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/maglink/internal/models"
)

func TestProvisionCreatesUserFromLocalPart(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Provision(context.Background(), "Ada.Lovelace@Example.org")
	require.NoError(t, err)
	require.Equal(t, "ada.lovelace", user.Username)
	require.Equal(t, "ada.lovelace@example.org", user.Email)
	require.True(t, user.IsActive)
	require.NotEmpty(t, user.ID)
}

func TestProvisionReturnsExistingUser(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	first, err := svc.Provision(context.Background(), "ada@example.org")
	require.NoError(t, err)

	second, err := svc.Provision(context.Background(), "ADA@example.org")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestProvisionResolvesUsernameCollisions(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	a, err := svc.Provision(context.Background(), "ada@example.org")
	require.NoError(t, err)
	require.Equal(t, "ada", a.Username)

	b, err := svc.Provision(context.Background(), "ada@example.net")
	require.NoError(t, err)
	require.Equal(t, "ada1", b.Username)

	c, err := svc.Provision(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "ada2", c.Username)
}

func TestGetByEmailNotFound(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.GetByEmail(context.Background(), "ghost@example.org")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordLogin(t *testing.T) {
	db := openServiceTestDB(t)
	loginAt := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewUserService(db, WithUserClock(func() time.Time { return loginAt }))
	require.NoError(t, err)

	user, err := svc.Provision(context.Background(), "ada@example.org")
	require.NoError(t, err)

	require.NoError(t, svc.RecordLogin(context.Background(), user.ID, "203.0.113.7"))

	refreshed, err := svc.GetByEmail(context.Background(), "ada@example.org")
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastLoginAt)
	require.True(t, refreshed.LastLoginAt.Equal(loginAt))
	require.Equal(t, "203.0.113.7", refreshed.LastLoginIP)

	require.ErrorIs(t, svc.RecordLogin(context.Background(), "missing-id", "203.0.113.7"), ErrUserNotFound)
}
