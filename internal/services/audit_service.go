package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/models"
)

// Auth event actions and results.
const (
	ActionLinkRequested = "link_requested"
	ActionLinkRedeemed  = "link_redeemed"

	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// AuthEventEntry captures a single authentication event to persist.
type AuthEventEntry struct {
	UserID    *string
	Email     string
	Action    string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuthEventFilters encapsulates optional filters when querying events.
type AuthEventFilters struct {
	Email  string
	Action string
	Result string
	Since  *time.Time
	Until  *time.Time
}

// AuthEventListOptions controls pagination and filtering for event queries.
type AuthEventListOptions struct {
	Page     int
	PageSize int
	Filters  AuthEventFilters
}

// AuditService persists and retrieves authentication events.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Record stores an authentication event, marshalling metadata into JSON form.
// Token material never belongs in the metadata.
func (s *AuditService) Record(ctx context.Context, entry AuthEventEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	event := models.AuthEvent{
		Email:     normaliseEmail(entry.Email),
		Action:    strings.TrimSpace(entry.Action),
		Result:    strings.TrimSpace(entry.Result),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		event.Metadata = datatypes.JSON(encoded)
	}

	if entry.UserID != nil && strings.TrimSpace(*entry.UserID) != "" {
		id := strings.TrimSpace(*entry.UserID)
		event.UserID = &id
	}

	return s.db.WithContext(ctx).Create(&event).Error
}

// List returns paginated events ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuthEventListOptions) ([]models.AuthEvent, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuthEvent
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuthEvent{})
	f := opts.Filters
	if f.Email != "" {
		query = query.Where("email = ?", normaliseEmail(f.Email))
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.Result != "" {
		query = query.Where("result = ?", f.Result)
	}
	if f.Since != nil {
		query = query.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		query = query.Where("created_at <= ?", *f.Until)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count: %w", err)
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("audit service: list: %w", err)
	}

	return results, total, nil
}

// Prune deletes events created before the cutoff and reports how many rows
// were removed.
func (s *AuditService) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).Delete(&models.AuthEvent{}, "created_at < ?", cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("audit service: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
