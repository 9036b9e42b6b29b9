package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// Authenticator is the capability set shared by every credential backend.
type Authenticator interface {
	Kind() domain.BackendKind
	Authenticate(ctx context.Context, creds domain.Credentials, account *domain.UserAccount) (domain.AuthenticationResult, error)
	VerifyStatus(ctx context.Context, account *domain.UserAccount) (domain.AuthenticationResult, error)
	ListPasswordRules(ctx context.Context) ([]string, error)
	ChangePassword(ctx context.Context, account *domain.UserAccount, oldPassword, newPassword string) (domain.AuthenticationResult, error)
	GetMaxPasswordAge(ctx context.Context) (domain.MaxPasswordAge, error)
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(clock Clock) Clock {
	if clock == nil {
		return systemClock
	}
	return clock
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(domain.BackendKind, domain.Outcome)          {}
func (noopMetrics) IncFallback(domain.Outcome)                                {}
func (noopMetrics) IncPolicyCacheHit()                                        {}
func (noopMetrics) IncPolicyCacheMiss()                                       {}
func (noopMetrics) ObserveDirectoryLatency(domain.BackendKind, time.Duration) {}

func metricsOrNoop(metrics port.AuthMetrics) port.AuthMetrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}

// newAttemptEvent builds the event appended for a password verdict.
// Succeeded is true when the presented password matched, even if aging blocks the login.
func newAttemptEvent(userID string, deviceID *string, at time.Time, matched bool, result domain.AuthenticationResult) domain.AuthenticationEvent {
	return domain.AuthenticationEvent{
		ID:            uuid.NewString(),
		UserID:        userID,
		OccurredAt:    at,
		Succeeded:     matched,
		DeviceID:      deviceID,
		FailureReason: result.Reason,
		Outcome:       result.Outcome,
	}
}
