package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/services"
	apperrors "github.com/charlesng35/maglink/pkg/errors"
	"github.com/charlesng35/maglink/pkg/logger"
	"github.com/charlesng35/maglink/pkg/metrics"
	"github.com/charlesng35/maglink/pkg/response"
)

// AuthHandler drives the passwordless sign-in flow: link requests and
// link redemption.
type AuthHandler struct {
	magicLinks *services.MagicLinkService
	users      *services.UserService
	audit      *services.AuditService
	jwt        *iauth.JWTService
	log        *zap.Logger
}

// NewAuthHandler constructs the handler with its collaborating services.
func NewAuthHandler(magicLinks *services.MagicLinkService, users *services.UserService, audit *services.AuditService, jwt *iauth.JWTService) (*AuthHandler, error) {
	if magicLinks == nil {
		return nil, errors.New("auth handler: magic link service is required")
	}
	if users == nil {
		return nil, errors.New("auth handler: user service is required")
	}
	if jwt == nil {
		return nil, errors.New("auth handler: jwt service is required")
	}
	return &AuthHandler{
		magicLinks: magicLinks,
		users:      users,
		audit:      audit,
		jwt:        jwt,
		log:        logger.WithModule("handlers.auth"),
	}, nil
}

type linkRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
}

// POST /api/auth/magic-link
//
// Issues a fresh link and mails it. The response is 202 in every successful
// case: the caller learns the link was dispatched, never whether an account
// exists for the address.
func (h *AuthHandler) RequestLink(c *gin.Context) {
	var req linkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()

	if _, err := h.magicLinks.IssueLink(ctx, req.Email); err != nil {
		h.log.Error("link issuance failed", zap.Error(err))
		h.recordEvent(c, nil, req.Email, services.ActionLinkRequested, services.ResultError, nil)
		response.Error(c, apperrors.ErrLinkNotSent.WithInternal(err))
		return
	}

	metrics.LinksIssued.Inc()
	h.recordEvent(c, nil, req.Email, services.ActionLinkRequested, services.ResultSuccess, nil)

	response.Success(c, http.StatusAccepted, gin.H{
		"message": "If the address is valid, a sign-in link is on its way",
	})
}

// GET /api/auth/redeem?code=...
//
// Validates and consumes the presented code. Every validation failure maps to
// the same 401; storage trouble stays distinct as a 503 so operators can tell
// an outage from an attack.
func (h *AuthHandler) Redeem(c *gin.Context) {
	code := c.Query("code")
	ctx := c.Request.Context()

	email, err := h.magicLinks.Redeem(ctx, code)
	if err != nil {
		if errors.Is(err, iauth.ErrTokenInvalid) {
			metrics.Redemptions.WithLabelValues("invalid").Inc()
			h.recordEvent(c, nil, "", services.ActionLinkRedeemed, services.ResultDenied, nil)
			response.Error(c, apperrors.ErrLinkInvalid)
			return
		}
		metrics.Redemptions.WithLabelValues("error").Inc()
		h.log.Error("redemption failed", zap.Error(err))
		h.recordEvent(c, nil, "", services.ActionLinkRedeemed, services.ResultError, nil)
		response.Error(c, apperrors.ErrStorageUnavailable.WithInternal(err))
		return
	}

	user, err := h.users.Provision(ctx, email)
	if err != nil {
		metrics.Redemptions.WithLabelValues("error").Inc()
		h.log.Error("provisioning failed", zap.Error(err))
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	if err := h.users.RecordLogin(ctx, user.ID, c.ClientIP()); err != nil {
		h.log.Warn("login stamp failed", zap.Error(err))
	}

	token, err := h.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		metrics.Redemptions.WithLabelValues("error").Inc()
		h.log.Error("session token generation failed", zap.Error(err))
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.Redemptions.WithLabelValues("success").Inc()
	h.recordEvent(c, &user.ID, user.Email, services.ActionLinkRedeemed, services.ResultSuccess, map[string]any{
		"username": user.Username,
	})

	response.Success(c, http.StatusOK, gin.H{
		"session": sessionResponse{AccessToken: token},
		"user": gin.H{
			"id":        user.ID,
			"username":  user.Username,
			"email":     user.Email,
			"is_active": user.IsActive,
		},
	})
}

// GET /api/auth/events
func (h *AuthHandler) ListEvents(c *gin.Context) {
	if h.audit == nil {
		response.Success(c, http.StatusOK, gin.H{"events": []any{}, "total": 0})
		return
	}

	opts := services.AuthEventListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 50),
		Filters: services.AuthEventFilters{
			Email:  c.Query("email"),
			Action: c.Query("action"),
			Result: c.Query("result"),
		},
	}

	events, total, err := h.audit.List(c.Request.Context(), opts)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events, "total": total})
}

// recordEvent writes an audit row, tolerating audit being disabled. Audit
// failures never fail the request.
func (h *AuthHandler) recordEvent(c *gin.Context, userID *string, email, action, result string, metadata map[string]any) {
	if h.audit == nil {
		return
	}

	err := h.audit.Record(c.Request.Context(), services.AuthEventEntry{
		UserID:    userID,
		Email:     email,
		Action:    action,
		Result:    result,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  metadata,
	})
	if err != nil {
		h.log.Warn("audit record failed", zap.Error(err))
	}
}
