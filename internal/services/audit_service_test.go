package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/maglink/internal/models"
)

func TestAuditRecordAndList(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, svc.Record(context.Background(), AuthEventEntry{
		Email:     "Ada@Example.org",
		Action:    ActionLinkRequested,
		Result:    ResultSuccess,
		IPAddress: "203.0.113.7",
		UserAgent: "curl/8.5",
		Metadata:  map[string]any{"link_expires_in": 3600},
	}))
	require.NoError(t, svc.Record(context.Background(), AuthEventEntry{
		Email:  "ada@example.org",
		Action: ActionLinkRedeemed,
		Result: ResultDenied,
	}))

	events, total, err := svc.List(context.Background(), AuthEventListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, events, 2)

	requested, _, err := svc.List(context.Background(), AuthEventListOptions{
		Filters: AuthEventFilters{Action: ActionLinkRequested},
	})
	require.NoError(t, err)
	require.Len(t, requested, 1)
	require.Equal(t, "ada@example.org", requested[0].Email)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(requested[0].Metadata, &meta))
	require.EqualValues(t, 3600, meta["link_expires_in"])
}

func TestAuditRecordRequiresActionAndResult(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Record(context.Background(), AuthEventEntry{Result: ResultSuccess}))
	require.Error(t, svc.Record(context.Background(), AuthEventEntry{Action: ActionLinkRequested}))
}

func TestAuditPrune(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	old := models.AuthEvent{Email: "old@example.org", Action: ActionLinkRequested, Result: ResultSuccess}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	recent := models.AuthEvent{Email: "new@example.org", Action: ActionLinkRequested, Result: ResultSuccess}
	require.NoError(t, db.Create(&recent).Error)

	removed, err := svc.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.AuthEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	removed, err = svc.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, removed)
}
