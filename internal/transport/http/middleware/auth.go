package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OperatorKey is the context key holding the label of the admin token that authorised the request.
const OperatorKey = "operator"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAdminToken guards administrative routes with static bearer tokens.
// Tokens may be configured as "label:secret"; the label is stored under OperatorKey.
// With no tokens configured every request is rejected.
func RequireAdminToken(tokens []string) gin.HandlerFunc {
	type credential struct {
		label string
		sum   [sha256.Size]byte
	}

	creds := make([]credential, 0, len(tokens))
	for _, raw := range tokens {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		label, secret := "admin", raw
		if name, value, ok := strings.Cut(raw, ":"); ok && name != "" && value != "" {
			label, secret = name, value
		}
		creds = append(creds, credential{label: label, sum: sha256.Sum256([]byte(secret))})
	}

	return func(c *gin.Context) {
		if len(creds) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "administrative access is not configured"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		presented := sha256.Sum256([]byte(strings.TrimSpace(token)))
		operator := ""
		for _, cred := range creds {
			if subtle.ConstantTimeCompare(presented[:], cred.sum[:]) == 1 {
				operator = cred.label
			}
		}
		if operator == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid admin token"))
			return
		}

		c.Set(OperatorKey, operator)
		GetRequestContext(c).Operator = operator

		c.Next()
	}
}

// GetOperator retrieves the operator label set by RequireAdminToken.
func GetOperator(c *gin.Context) (string, bool) {
	value, exists := c.Get(OperatorKey)
	if !exists {
		return "", false
	}
	operator, ok := value.(string)
	return operator, ok && operator != ""
}
