package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned next to the message so stations can branch without parsing text.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeIdentifierRequired = "identifier_required"
	CodePasswordRequired   = "password_required"
	CodeAccountNotFound    = "account_not_found"
	CodePolicyUnavailable  = "policy_unavailable"
	CodePasswordReused     = "password_reused"
	CodePasswordPolicy     = "password_policy"
	CodeBackendUnavailable = "backend_unavailable"
)

// ErrorCase maps a sentinel error to an HTTP status code, a stable code and a response message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondWithMappedError records err on the context for the access log and answers with
// the first matching case, or with fallbackStatus and CodeBackendUnavailable.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Code, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, CodeBackendUnavailable, fallbackMessage))
}
