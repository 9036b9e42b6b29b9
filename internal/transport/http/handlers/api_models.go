package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, code, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		Code:    code,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary describes the account fields a dispensing station displays.
type AccountSummary struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	IsLocked    bool       `json:"is_locked"`
	IsTemporary bool       `json:"is_temporary"`
	IsSupport   bool       `json:"is_support_user"`
	DomainID    *string    `json:"domain_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AuthenticateRequest defines the payload for the authenticate endpoint.
type AuthenticateRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"device_id"`
}

// AuthenticationResponse carries the outcome of an authentication or status check.
type AuthenticationResponse struct {
	Outcome       domain.Outcome       `json:"outcome"`
	Reason        domain.FailureReason `json:"reason,omitempty"`
	Message       string               `json:"message"`
	Authenticated bool                 `json:"authenticated"`
	User          *AccountSummary      `json:"user,omitempty"`
}

// PasswordRulesResponse lists the human readable password rules.
type PasswordRulesResponse struct {
	Rules []string `json:"rules"`
}

// MaxPasswordAgeResponse describes the maximum password age of the account's backend.
type MaxPasswordAgeResponse struct {
	Unbounded     bool  `json:"unbounded"`
	MaxAgeSeconds int64 `json:"max_age_seconds,omitempty"`
}

// PasswordChangeRequest defines the payload to change a password.
type PasswordChangeRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// UnlockRequest optionally names the operator performing the unlock.
type UnlockRequest struct {
	UnlockedBy string `json:"unlocked_by"`
}

// UnlockResponse reports whether the call cleared a lock.
type UnlockResponse struct {
	UserID   string `json:"user_id"`
	Unlocked bool   `json:"unlocked"`
	Message  string `json:"message"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func newAuthenticationResponse(result domain.AuthenticationResult) AuthenticationResponse {
	resp := AuthenticationResponse{
		Outcome:       result.Outcome,
		Reason:        result.Reason,
		Message:       result.Message,
		Authenticated: result.IsAuthenticated(),
	}
	if account := result.Account; account != nil {
		resp.User = &AccountSummary{
			ID:          account.ID,
			Username:    account.Username,
			DisplayName: account.DisplayName(),
			IsLocked:    account.IsLocked,
			IsTemporary: account.IsTemporary,
			IsSupport:   account.IsSupportUser,
			DomainID:    account.DomainID,
			ExpiresAt:   account.ExpiresAt,
		}
	}
	return resp
}
