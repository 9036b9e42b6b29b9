package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	appLogger "github.com/arklim/dispense-auth/internal/infra/logger"
)

const (
	rateLimitProblemType  = "https://dispense-auth.example.com/errors/too-many-attempts"
	rateLimitProblemTitle = "Too Many Authentication Attempts"
)

// RateLimitScope names what a rule counts against.
type RateLimitScope string

const (
	ScopeClientIP RateLimitScope = "ip"
	ScopeAccount  RateLimitScope = "account"
)

// RateLimitStore defines the persistence operations required by the middleware.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}

// IdentifierFunc extracts the identifier a rule counts against.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
// An empty Scope is treated as ScopeClientIP.
type RateLimitRule struct {
	Name       string
	Scope      RateLimitScope
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter throttles authentication traffic ahead of the lockout policy,
// so a sprayed station or a guessed account is slowed before it reaches the directory.
type RateLimiter struct {
	store   RateLimitStore
	logger  *zap.Logger
	metrics *HTTPMetrics
	now     func() time.Time
}

type ruleResult struct {
	rule       RateLimitRule
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
	identifier string
	storageKey string
}

// ProblemDetails represents an RFC 9457 compatible error payload for throttled requests.
// Extensions carry the rule and scope that rejected the request.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// WithMetrics counts rejected requests on the given collectors.
func (rl *RateLimiter) WithMetrics(metrics *HTTPMetrics) *RateLimiter {
	rl.metrics = metrics
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

type accountReference struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// AccountIdentifier keys a rule on the account named in a JSON body.
// user_id wins over username, both compared case-insensitively. The body stays
// cached on the context, so handlers must bind it with ShouldBindBodyWith.
// The resolved account is recorded as the request subject.
func AccountIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		if c.Request.Body == nil {
			return "", false
		}

		var ref accountReference
		if err := c.ShouldBindBodyWith(&ref, binding.JSON); err != nil {
			return "", false
		}

		if id := strings.TrimSpace(ref.UserID); id != "" {
			SetSubject(c, id)
			return "id:" + strings.ToLower(id), true
		}
		if name := strings.TrimSpace(ref.Username); name != "" {
			SetSubject(c, name)
			return "name:" + strings.ToLower(name), true
		}
		return "", false
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		if rule.Scope == "" {
			rule.Scope = ScopeClientIP
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var bestResult *ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			key := fmt.Sprintf("%s:%s", rule.Name, identifier)

			res, err := rl.evaluateRule(c, rule, identifier, key, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", maskIdentifier(rule.Scope, identifier)),
					zap.Error(err))
				continue
			}

			if bestResult == nil || rl.shouldReplaceHeaderResult(*bestResult, res) {
				snapshot := res
				bestResult = &snapshot
			}

			if !res.allowed {
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, res)
				return
			}
		}

		if bestResult != nil {
			rl.applyHeaders(c, *bestResult)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluateRule(c *gin.Context, rule RateLimitRule, identifier, key string, now time.Time) (ruleResult, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return ruleResult{}, err
	}

	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return ruleResult{}, err
	}

	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return ruleResult{}, err
	}

	result := ruleResult{
		rule:       rule,
		limit:      rule.Limit,
		identifier: identifier,
		storageKey: key,
		reset:      now.Add(rule.Window),
		allowed:    true,
	}

	if hasAttempts {
		result.reset = oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		result.allowed = false
		result.remaining = 0
		result.retryAfter = result.reset.Sub(now)
		if result.retryAfter < 0 {
			result.retryAfter = 0
		}
		return result, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return ruleResult{}, err
	}

	count++
	result.remaining = rule.Limit - count
	if result.remaining < 0 {
		result.remaining = 0
	}

	result.retryAfter = result.reset.Sub(now)
	if result.retryAfter < 0 {
		result.retryAfter = 0
	}

	if !hasAttempts {
		result.reset = now.Add(rule.Window)
	}

	return result, nil
}

func (rl *RateLimiter) shouldReplaceHeaderResult(current, candidate ruleResult) bool {
	if !candidate.allowed && current.allowed {
		return true
	}

	if candidate.allowed == current.allowed {
		if candidate.remaining < current.remaining {
			return true
		}
		if candidate.remaining == current.remaining && candidate.reset.Before(current.reset) {
			return true
		}
	}

	return false
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		seconds := int(math.Ceil(res.retryAfter.Seconds()))
		if seconds < 0 {
			seconds = 0
		}
		headers.Set("Retry-After", strconv.Itoa(seconds))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res ruleResult) {
	retrySeconds := int(math.Ceil(res.retryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}

	rl.logger.Warn("authentication attempts throttled",
		zap.String("rule", res.rule.Name),
		zap.String("scope", string(res.rule.Scope)),
		zap.String("identifier", maskIdentifier(res.rule.Scope, res.identifier)),
		zap.String("device_id", DeviceID(c)),
		zap.Int("retry_after", retrySeconds))
	rl.metrics.ObserveRateLimited(res.rule.Name, string(res.rule.Scope))

	detail := fmt.Sprintf("Too many attempts from this %s. Try again in %d seconds.", scopeNoun(res.rule.Scope), retrySeconds)
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
		Extensions: map[string]any{
			"rule":  res.rule.Name,
			"scope": string(res.rule.Scope),
		},
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, problem)
}

func scopeNoun(scope RateLimitScope) string {
	if scope == ScopeAccount {
		return "account"
	}
	return "client"
}

func maskIdentifier(scope RateLimitScope, identifier string) string {
	if scope == ScopeAccount {
		kind, value, ok := strings.Cut(identifier, ":")
		if !ok {
			return appLogger.MaskUsername(identifier)
		}
		return kind + ":" + appLogger.MaskUsername(value)
	}
	return appLogger.MaskIP(identifier)
}
