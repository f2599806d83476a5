package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/models"
	apperrors "github.com/charlesng35/maglink/pkg/errors"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

// maxUsernameProbes bounds the availability search when deriving a username
// from an email local part.
const maxUsernameProbes = 100

// UserService resolves and provisions accounts keyed by email address.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// UserOption customises the UserService.
type UserOption func(*UserService)

// WithUserClock injects a custom time source.
func WithUserClock(clock func() time.Time) UserOption {
	return func(s *UserService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	service := &UserService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// GetByEmail returns the account owning the address, or ErrUserNotFound.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: get by email: %w", err)
	}
	return &user, nil
}

// Provision returns the existing account for the address, creating one when
// none exists. New accounts take their username from the email local part; a
// numeric suffix resolves collisions.
func (s *UserService) Provision(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	user, err := s.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	created := &models.User{
		Email:    email,
		IsActive: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		username, err := s.availableUsername(tx, preferredUsername(email))
		if err != nil {
			return err
		}
		created.Username = username
		return tx.Create(created).Error
	})
	if err != nil {
		return nil, fmt.Errorf("user service: provision: %w", err)
	}

	return created, nil
}

// RecordLogin stamps the account with the time and origin of a successful
// redemption.
func (s *UserService) RecordLogin(ctx context.Context, userID, ip string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(userID) == "" {
		return apperrors.NewBadRequest("user id is required")
	}

	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"last_login_at": now,
			"last_login_ip": strings.TrimSpace(ip),
		})
	if res.Error != nil {
		return fmt.Errorf("user service: record login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// preferredUsername derives a candidate username from the email local part.
func preferredUsername(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	local = strings.TrimSpace(local)
	if local == "" {
		return "user"
	}
	return local
}

// availableUsername probes for the first free username, appending an
// incrementing counter to the preferred name on collision.
func (s *UserService) availableUsername(tx *gorm.DB, preferred string) (string, error) {
	candidate := preferred
	for i := 1; i <= maxUsernameProbes; i++ {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", preferred, i)
	}
	return "", fmt.Errorf("no available username for %q", preferred)
}
