package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// LockoutDecision is the recommendation produced after a password mismatch.
type LockoutDecision int

const (
	// LockoutDisabled means no window or retry limit is configured.
	LockoutDisabled LockoutDecision = iota
	// LockoutIncorrectPassword means the attempt is below the warning threshold.
	LockoutIncorrectPassword
	// LockoutWarn means exactly one attempt remains before locking.
	LockoutWarn
	// LockoutLockNow means the account must be locked before returning.
	LockoutLockNow
)

// Outcome maps the decision onto the closed outcome set.
func (d LockoutDecision) Outcome() domain.Outcome {
	switch d {
	case LockoutWarn:
		return domain.OutcomeWarnAccountLockout
	case LockoutLockNow:
		return domain.OutcomeAccountLocking
	default:
		return domain.OutcomeIncorrectPassword
	}
}

// LockoutInput carries everything EvaluateLockout needs.
// PriorFailures excludes the attempt being evaluated.
type LockoutInput struct {
	Window           *time.Duration
	MaxRetryAttempts *int
	PriorFailures    int
}

// LockoutWindowStart returns max(lastSuccess, lastUnlock, now-window).
// Zero times stand for "never".
func LockoutWindowStart(window time.Duration, lastSuccess, lastUnlock, now time.Time) time.Time {
	base := lastSuccess
	if lastUnlock.After(base) {
		base = lastUnlock
	}
	if floor := now.Add(-window); floor.After(base) {
		return floor
	}
	return base
}

// EvaluateLockout decides the outcome of a failed attempt from the number of earlier failures in the window.
func EvaluateLockout(in LockoutInput) LockoutDecision {
	if in.Window == nil || in.MaxRetryAttempts == nil {
		return LockoutDisabled
	}
	max := *in.MaxRetryAttempts
	candidate := in.PriorFailures + 1
	switch {
	case candidate >= max:
		return LockoutLockNow
	case max-candidate == 1:
		return LockoutWarn
	default:
		return LockoutIncorrectPassword
	}
}

// LockoutEvaluator reads the event log and applies EvaluateLockout.
type LockoutEvaluator struct {
	events   port.EventLog
	settings domain.AuthSettings
}

// NewLockoutEvaluator constructs a LockoutEvaluator.
func NewLockoutEvaluator(events port.EventLog, settings domain.AuthSettings) *LockoutEvaluator {
	return &LockoutEvaluator{events: events, settings: settings}
}

// Evaluate returns the decision for a failed attempt at now together with the candidate failure count.
// Failures are counted across all devices of the user.
func (e *LockoutEvaluator) Evaluate(ctx context.Context, userID string, now time.Time) (LockoutDecision, int, error) {
	if e.settings.LockoutWindow == nil || e.settings.MaxRetryAttempts == nil {
		return LockoutDisabled, 0, nil
	}

	lastSuccess, err := e.events.LastSuccessfulAttempt(ctx, userID)
	if err != nil {
		return LockoutDisabled, 0, fmt.Errorf("last successful attempt: %w", err)
	}
	lastUnlock, err := e.events.LastUnlockTime(ctx, userID)
	if err != nil {
		return LockoutDisabled, 0, fmt.Errorf("last unlock time: %w", err)
	}

	start := LockoutWindowStart(*e.settings.LockoutWindow, lastSuccess, lastUnlock, now)
	failures, err := e.events.FailureCount(ctx, userID, nil, start, now)
	if err != nil {
		return LockoutDisabled, 0, fmt.Errorf("failure count: %w", err)
	}

	decision := EvaluateLockout(LockoutInput{
		Window:           e.settings.LockoutWindow,
		MaxRetryAttempts: e.settings.MaxRetryAttempts,
		PriorFailures:    failures,
	})
	return decision, failures + 1, nil
}
