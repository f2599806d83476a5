package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/middleware"
	"github.com/charlesng35/maglink/internal/models"
	"github.com/charlesng35/maglink/internal/services"
	"github.com/charlesng35/maglink/pkg/mail"
)

type capturingMailer struct {
	messages []mail.Message
}

func (m *capturingMailer) Send(_ context.Context, msg mail.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

type authFixture struct {
	router *gin.Engine
	mailer *capturingMailer
	db     *gorm.DB
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.MagicLinkToken{}, &models.AuthEvent{}))

	codec, err := iauth.NewTokenCodec(iauth.CodecConfig{
		SigningKey:    "handler-signing-key",
		EncryptionKey: bytes.Repeat([]byte{0x9}, 32),
		TokenLifetime: time.Hour,
	})
	require.NoError(t, err)

	store, err := services.NewTokenStore(db)
	require.NoError(t, err)

	mailer := &capturingMailer{}
	magicLinks, err := services.NewMagicLinkService(codec, store, mailer,
		services.WithLinkBaseURL("https://auth.example.org/redeem"))
	require.NoError(t, err)

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "handler-session-secret",
		Issuer:         "maglink-test",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	handler, err := NewAuthHandler(magicLinks, users, audit, jwt)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/auth/magic-link", handler.RequestLink)
	router.GET("/api/auth/redeem", handler.Redeem)
	router.GET("/api/auth/events", middleware.Auth(jwt), handler.ListEvents)

	return &authFixture{router: router, mailer: mailer, db: db}
}

// redeem exchanges a mailed code for a session token.
func (f *authFixture) redeem(t *testing.T, code string) string {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/redeem?code="+code, nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Data struct {
			Session struct {
				AccessToken string `json:"access_token"`
			} `json:"session"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Data.Session.AccessToken)
	return payload.Data.Session.AccessToken
}

func (f *authFixture) requestLink(t *testing.T, email string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/magic-link", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func (f *authFixture) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.messages)
	body := f.mailer.messages[len(f.mailer.messages)-1].Body
	idx := strings.Index(body, "?code=")
	require.GreaterOrEqual(t, idx, 0)
	code := body[idx+len("?code="):]
	if end := strings.IndexAny(code, "\n \t"); end >= 0 {
		code = code[:end]
	}
	return code
}

func TestRequestLinkAndRedeemFlow(t *testing.T) {
	f := newAuthFixture(t)

	w := f.requestLink(t, "Ada@Example.org")
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, f.mailer.messages, 1)
	require.Equal(t, "ada@example.org", f.mailer.messages[0].To)

	code := f.lastCode(t)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/redeem?code="+code, nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Session struct {
				AccessToken string `json:"access_token"`
			} `json:"session"`
			User struct {
				ID       string `json:"id"`
				Username string `json:"username"`
				Email    string `json:"email"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	require.NotEmpty(t, payload.Data.Session.AccessToken)
	require.Equal(t, "ada", payload.Data.User.Username)
	require.Equal(t, "ada@example.org", payload.Data.User.Email)

	var user models.User
	require.NoError(t, f.db.First(&user, "email = ?", "ada@example.org").Error)
	require.NotNil(t, user.LastLoginAt)
}

func TestRedeemRejectsReusedCode(t *testing.T) {
	f := newAuthFixture(t)

	require.Equal(t, http.StatusAccepted, f.requestLink(t, "ada@example.org").Code)
	code := f.lastCode(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/redeem?code="+code, nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/redeem?code="+code, nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "LINK_INVALID")
}

func TestRedeemRejectsGarbage(t *testing.T) {
	f := newAuthFixture(t)

	for _, code := range []string{"", "not-a-token", "a.b.c"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/redeem?code="+code, nil)
		f.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code, "code %q", code)
		require.Contains(t, w.Body.String(), "LINK_INVALID")
	}
}

func TestRequestLinkValidatesEmail(t *testing.T) {
	f := newAuthFixture(t)

	w := f.requestLink(t, "not-an-email")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, f.mailer.messages)
}

func TestEventsRejectAnonymousCallers(t *testing.T) {
	f := newAuthFixture(t)

	require.Equal(t, http.StatusAccepted, f.requestLink(t, "ada@example.org").Code)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/events", nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotContains(t, w.Body.String(), "ada@example.org")
}

func TestEventsRecordTheFlow(t *testing.T) {
	f := newAuthFixture(t)

	require.Equal(t, http.StatusAccepted, f.requestLink(t, "ada@example.org").Code)
	token := f.redeem(t, f.lastCode(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Data struct {
			Events []models.AuthEvent `json:"events"`
			Total  int64              `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.EqualValues(t, 2, payload.Data.Total)

	actions := map[string]bool{}
	for _, event := range payload.Data.Events {
		actions[event.Action] = true
	}
	require.True(t, actions[services.ActionLinkRequested])
	require.True(t, actions[services.ActionLinkRedeemed])
}
