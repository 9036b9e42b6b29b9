package port

import (
	"context"
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// EventLog is the append-only authentication attempt log.
// Missing timestamps are returned as the zero time.
type EventLog interface {
	Append(ctx context.Context, event domain.AuthenticationEvent) error
	LastSuccessfulAttempt(ctx context.Context, userID string) (time.Time, error)
	LastUnlockTime(ctx context.Context, userID string) (time.Time, error)
	FailureCount(ctx context.Context, userID string, deviceID *string, start, end time.Time) (int, error)
	RecordUnlock(ctx context.Context, userID string, at time.Time) error
	Prune(ctx context.Context, before time.Time) (int, error)
}

// AttemptGuard serializes the evaluate-append-lock sequence of one account.
type AttemptGuard interface {
	Guard(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}
