package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no broker is configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishAccountLocked logs account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(EventAccountLocked, event.UserID, event.LockedAt,
		zap.Int("failed_attempts", event.FailedAttempts),
		zap.Stringp("device_id", event.DeviceID),
	)
	return nil
}

// PublishAccountUnlocked logs account.unlocked events.
func (p *StubPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.logEvent(EventAccountUnlocked, event.UserID, event.UnlockedAt,
		zap.String("unlocked_by", event.UnlockedBy),
	)
	return nil
}

// PublishPasswordChanged logs account.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.UserID, event.ChangedAt,
		zap.String("backend", string(event.Backend)),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
