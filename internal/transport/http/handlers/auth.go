package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/transport/http/middleware"
	"github.com/arklim/dispense-auth/internal/usecase"
)

// AuthService is the part of usecase.AuthService the HTTP layer calls.
type AuthService interface {
	Authenticate(ctx context.Context, req usecase.AuthenticateRequest) (domain.AuthenticationResult, error)
	VerifyStatus(ctx context.Context, userID string) (domain.AuthenticationResult, error)
	ListPasswordRules(ctx context.Context, userID string) ([]string, error)
	GetMaxPasswordAge(ctx context.Context, userID string) (domain.MaxPasswordAge, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (domain.AuthenticationResult, error)
	UnlockAccount(ctx context.Context, userID, actor string) (bool, error)
}

var accountErrorCases = []ErrorCase{
	{Err: usecase.ErrIdentifierRequired, Status: http.StatusBadRequest, Code: CodeIdentifierRequired, Message: "user_id or username is required"},
	{Err: usecase.ErrPasswordRequired, Status: http.StatusBadRequest, Code: CodePasswordRequired, Message: "password is required"},
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Code: CodeAccountNotFound, Message: "account not found"},
	{Err: usecase.ErrPolicyUnavailable, Status: http.StatusServiceUnavailable, Code: CodePolicyUnavailable, Message: "password policy unavailable"},
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes mounts the handler under group; middlewares guard only the authenticate call.
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup, authenticateMiddlewares ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, authenticateMiddlewares...), h.Authenticate)
	group.POST("/authenticate", handlers...)
	group.GET("/status/:user_id", h.Status)
}

// Authenticate checks credentials. Rejections answer 401 with the same body shape as success.
// The body is bound with ShouldBindBodyWith because account-scoped rate limiting reads it first.
// A missing device_id falls back to the X-Device-ID header.
func (h *AuthHandler) Authenticate(c *gin.Context) {
	var req AuthenticateRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, CodeInvalidRequest, "invalid authenticate payload"))
		return
	}

	input := usecase.AuthenticateRequest{
		UserID:   strings.TrimSpace(req.UserID),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = middleware.DeviceID(c)
	}
	if deviceID != "" {
		input.DeviceID = &deviceID
	}

	result, err := h.auth.Authenticate(c.Request.Context(), input)
	recordSubject(c, result, input.UserID, input.Username)
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "authentication unavailable")
		return
	}

	status := http.StatusOK
	if !result.IsAuthenticated() {
		status = http.StatusUnauthorized
	}
	c.JSON(status, newAuthenticationResponse(result))
}

// Status reports whether the account could authenticate right now, without a password.
func (h *AuthHandler) Status(c *gin.Context) {
	userID := c.Param("user_id")
	result, err := h.auth.VerifyStatus(c.Request.Context(), userID)
	recordSubject(c, result, userID, "")
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "status unavailable")
		return
	}
	c.JSON(http.StatusOK, newAuthenticationResponse(result))
}

// AccountHandler exposes administrative account endpoints.
type AccountHandler struct {
	auth AuthService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(auth AuthService) *AccountHandler {
	return &AccountHandler{auth: auth}
}

// RegisterRoutes mounts the handler under group.
func (h *AccountHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/:user_id/unlock", h.Unlock)
}

// Unlock clears the lock flag. Unlocking an unlocked account succeeds with unlocked=false.
func (h *AccountHandler) Unlock(c *gin.Context) {
	var req UnlockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, CodeInvalidRequest, "invalid unlock payload"))
			return
		}
	}

	actor := strings.TrimSpace(req.UnlockedBy)
	if actor == "" {
		actor, _ = middleware.GetOperator(c)
	}
	if actor == "" {
		actor = "api"
	}

	userID := c.Param("user_id")
	middleware.SetSubject(c, userID)
	changed, err := h.auth.UnlockAccount(c.Request.Context(), userID, actor)
	if err != nil && !changed {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "unlock failed")
		return
	}
	if err != nil {
		_ = c.Error(err)
	}

	message := "account unlocked"
	if !changed {
		message = "account was not locked"
	}
	c.JSON(http.StatusOK, UnlockResponse{UserID: userID, Unlocked: changed, Message: message})
}

// recordSubject puts the resolved account on the request context, or the identifier
// the caller sent when resolution failed.
func recordSubject(c *gin.Context, result domain.AuthenticationResult, userID, username string) {
	if result.Account != nil {
		middleware.SetSubject(c, result.Account.Username)
	}
	if userID != "" {
		middleware.SetSubject(c, userID)
	}
	middleware.SetSubject(c, username)
}
