package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/infra/security"
	"github.com/arklim/dispense-auth/internal/transport/http/middleware"
	"github.com/arklim/dispense-auth/internal/usecase"
)

var passwordChangeErrorCases = append([]ErrorCase{
	{Err: usecase.ErrPasswordReused, Status: http.StatusConflict, Code: CodePasswordReused, Message: "password was used recently"},
}, accountErrorCases...)

// PasswordHandler exposes endpoints for password management.
type PasswordHandler struct {
	auth AuthService
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(auth AuthService) *PasswordHandler {
	return &PasswordHandler{auth: auth}
}

// RegisterRoutes mounts the handler under group; middlewares guard only the change call.
func (h *PasswordHandler) RegisterRoutes(group *gin.RouterGroup, changeMiddlewares ...gin.HandlerFunc) {
	group.GET("/rules/:user_id", h.Rules)
	group.GET("/max-age/:user_id", h.MaxAge)
	handlers := append(append([]gin.HandlerFunc{}, changeMiddlewares...), h.ChangePassword)
	group.POST("/change", handlers...)
}

// Rules lists the password rules of the account's backend.
func (h *PasswordHandler) Rules(c *gin.Context) {
	userID := c.Param("user_id")
	middleware.SetSubject(c, userID)
	rules, err := h.auth.ListPasswordRules(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "password rules unavailable")
		return
	}
	if rules == nil {
		rules = []string{}
	}
	c.JSON(http.StatusOK, PasswordRulesResponse{Rules: rules})
}

// MaxAge returns the maximum password age of the account's backend.
func (h *PasswordHandler) MaxAge(c *gin.Context) {
	userID := c.Param("user_id")
	middleware.SetSubject(c, userID)
	age, err := h.auth.GetMaxPasswordAge(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "password age unavailable")
		return
	}

	resp := MaxPasswordAgeResponse{Unbounded: true}
	if d, bounded := age.Duration(); bounded {
		resp = MaxPasswordAgeResponse{MaxAgeSeconds: int64(d.Seconds())}
	}
	c.JSON(http.StatusOK, resp)
}

// ChangePassword changes the password on the account's backend.
// A rejected change answers 422 with the outcome body; policy violations list the failed rules.
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	var req PasswordChangeRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, CodeInvalidRequest, "invalid change password payload"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	middleware.SetSubject(c, userID)
	result, err := h.auth.ChangePassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, usecase.ErrPasswordPolicy) {
			message := "password does not satisfy policy"
			var validationErr *security.PasswordValidationError
			if errors.As(err, &validationErr) {
				message = validationErr.Message
			}
			c.JSON(http.StatusUnprocessableEntity, NewErrorResponse(c, CodePasswordPolicy, message))
			return
		}
		RespondWithMappedError(c, err, passwordChangeErrorCases, http.StatusInternalServerError, "password change failed")
		return
	}

	status := http.StatusOK
	if result.Outcome != domain.OutcomeSuccessful {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, newAuthenticationResponse(result))
}
