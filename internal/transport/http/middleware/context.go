package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the trace id across services.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin key holding the trace id.
	TraceIDKey = "trace_id"
	// DeviceIDHeader identifies the dispensing station that sent the request.
	DeviceIDHeader = "X-Device-ID"

	requestContextKey = "request_context"
	maxDeviceIDLength = 64
)

// RequestContext holds request-scoped information for logs and error bodies.
// Subject is the account the request acts on once a handler or rule resolved it.
// Operator is the admin token label on administrative routes.
type RequestContext struct {
	TraceID   string
	RequestID string
	Subject   string
	Operator  string
	DeviceID  string
	IP        string
	UserAgent string
}

// EnrichContext adds the trace id, the station id and client metadata to each request.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			DeviceID:  sanitizeDeviceID(c.GetHeader(DeviceIDHeader)),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

func sanitizeDeviceID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxDeviceIDLength {
		return ""
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return raw
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestContext returns the request context, creating an empty one when EnrichContext did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	reqCtx := &RequestContext{}
	c.Set(requestContextKey, reqCtx)
	return reqCtx
}

// SetSubject records the account the request acts on. The first non-empty value wins.
func SetSubject(c *gin.Context, subject string) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return
	}
	reqCtx := GetRequestContext(c)
	if reqCtx.Subject == "" {
		reqCtx.Subject = subject
	}
}

// DeviceID returns the station id sent in DeviceIDHeader, if any.
func DeviceID(c *gin.Context) string {
	return GetRequestContext(c).DeviceID
}
