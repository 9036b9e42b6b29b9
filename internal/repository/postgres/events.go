package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

const (
	eventKindAttempt = "attempt"
	eventKindUnlock  = "unlock"
)

// EventRepository implements port.EventLog on the append-only auth.authentication_events table.
type EventRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewEventRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewEventRepository(exec pgExecutor) *EventRepository {
	return &EventRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Append inserts one attempt event.
func (r *EventRepository) Append(ctx context.Context, event domain.AuthenticationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return r.insert(ctx, eventKindAttempt, event)
}

// RecordUnlock inserts an unlock marker, which restarts the lockout window.
func (r *EventRepository) RecordUnlock(ctx context.Context, userID string, at time.Time) error {
	return r.insert(ctx, eventKindUnlock, domain.AuthenticationEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		OccurredAt: at,
	})
}

func (r *EventRepository) insert(ctx context.Context, kind string, event domain.AuthenticationEvent) error {
	stmt, args, err := r.builder.
		Insert(table("authentication_events")).
		Columns(
			"id",
			"user_id",
			"kind",
			"occurred_at",
			"succeeded",
			"device_id",
			"failure_reason",
			"outcome",
		).
		Values(
			event.ID,
			event.UserID,
			kind,
			event.OccurredAt.UTC(),
			event.Succeeded,
			event.DeviceID,
			nullableString(string(event.FailureReason)),
			nullableString(string(event.Outcome)),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert event sql: %w", err)
	}

	if _, err := executorFor(ctx, r.exec).Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s event: %w", kind, err)
	}
	return nil
}

// LastSuccessfulAttempt returns the newest successful attempt, or the zero time.
func (r *EventRepository) LastSuccessfulAttempt(ctx context.Context, userID string) (time.Time, error) {
	return r.latest(ctx, squirrel.Eq{"user_id": userID, "kind": eventKindAttempt, "succeeded": true})
}

// LastUnlockTime returns the newest unlock marker, or the zero time.
func (r *EventRepository) LastUnlockTime(ctx context.Context, userID string) (time.Time, error) {
	return r.latest(ctx, squirrel.Eq{"user_id": userID, "kind": eventKindUnlock})
}

func (r *EventRepository) latest(ctx context.Context, where squirrel.Eq) (time.Time, error) {
	stmt, args, err := r.builder.
		Select("max(occurred_at)").
		From(table("authentication_events")).
		Where(where).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("build latest event sql: %w", err)
	}

	var at *time.Time
	if err := executorFor(ctx, r.exec).QueryRow(ctx, stmt, args...).Scan(&at); err != nil {
		return time.Time{}, fmt.Errorf("scan latest event: %w", err)
	}
	if at == nil {
		return time.Time{}, nil
	}
	return at.UTC(), nil
}

// FailureCount counts failed attempts with start <= occurred_at <= end. A nil deviceID counts every device.
func (r *EventRepository) FailureCount(ctx context.Context, userID string, deviceID *string, start, end time.Time) (int, error) {
	query := r.builder.
		Select("count(*)").
		From(table("authentication_events")).
		Where(squirrel.Eq{"user_id": userID, "kind": eventKindAttempt, "succeeded": false}).
		Where(squirrel.GtOrEq{"occurred_at": start.UTC()}).
		Where(squirrel.LtOrEq{"occurred_at": end.UTC()})
	if deviceID != nil {
		query = query.Where(squirrel.Eq{"device_id": *deviceID})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build failure count sql: %w", err)
	}

	var count int
	if err := executorFor(ctx, r.exec).QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan failure count: %w", err)
	}
	return count, nil
}

// Prune deletes events older than before and reports how many were removed.
func (r *EventRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.
		Delete(table("authentication_events")).
		Where(squirrel.Lt{"occurred_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune events sql: %w", err)
	}

	tag, err := executorFor(ctx, r.exec).Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var _ port.EventLog = (*EventRepository)(nil)
