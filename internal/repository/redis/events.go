package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

const (
	failuresSuffix  = "failures"
	successesSuffix = "successes"
	unlocksSuffix   = "unlocks"

	anyDevice = "-"
)

// EventLogConfig configures the Redis event log.
type EventLogConfig struct {
	KeyPrefix string
	// TTL bounds idle per-user keys; zero keeps them until pruned.
	TTL time.Duration
}

// EventLogRepository implements port.EventLog with three sorted sets per user: failed attempts,
// successful attempts, and unlock markers. Failure members encode the device so counts can be scoped.
type EventLogRepository struct {
	client redis.UniversalClient
	cfg    EventLogConfig
}

// NewEventLogRepository constructs the repository.
func NewEventLogRepository(client redis.UniversalClient, cfg EventLogConfig) *EventLogRepository {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "auth:events"
	}
	return &EventLogRepository{client: client, cfg: cfg}
}

// Append records one attempt.
func (r *EventLogRepository) Append(ctx context.Context, event domain.AuthenticationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	suffix := failuresSuffix
	if event.Succeeded {
		suffix = successesSuffix
	}
	return r.add(ctx, r.key(event.UserID, suffix), event.OccurredAt, eventMember(event))
}

// RecordUnlock stores an unlock marker.
func (r *EventLogRepository) RecordUnlock(ctx context.Context, userID string, at time.Time) error {
	return r.add(ctx, r.key(userID, unlocksSuffix), at, uuid.NewString())
}

func (r *EventLogRepository) add(ctx context.Context, key string, at time.Time, member string) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(at), Member: member})
	if r.cfg.TTL > 0 {
		pipe.Expire(ctx, key, r.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append event: %w", err)
	}
	return nil
}

// LastSuccessfulAttempt returns the newest successful attempt, or the zero time.
func (r *EventLogRepository) LastSuccessfulAttempt(ctx context.Context, userID string) (time.Time, error) {
	return r.latest(ctx, r.key(userID, successesSuffix))
}

// LastUnlockTime returns the newest unlock marker, or the zero time.
func (r *EventLogRepository) LastUnlockTime(ctx context.Context, userID string) (time.Time, error) {
	return r.latest(ctx, r.key(userID, unlocksSuffix))
}

func (r *EventLogRepository) latest(ctx context.Context, key string) (time.Time, error) {
	values, err := r.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis zrevrange: %w", err)
	}
	if len(values) == 0 {
		return time.Time{}, nil
	}
	return fromScore(values[0].Score), nil
}

// FailureCount counts failures with start <= at <= end, optionally restricted to one device.
func (r *EventLogRepository) FailureCount(ctx context.Context, userID string, deviceID *string, start, end time.Time) (int, error) {
	key := r.key(userID, failuresSuffix)
	min, max := scoreString(start), scoreString(end)

	if deviceID == nil {
		count, err := r.client.ZCount(ctx, key, min, max).Result()
		if err != nil {
			return 0, fmt.Errorf("redis zcount: %w", err)
		}
		return int(count), nil
	}

	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	count := 0
	for _, member := range members {
		if memberDevice(member) == *deviceID {
			count++
		}
	}
	return count, nil
}

// Prune removes entries older than before from every per-user set.
func (r *EventLogRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	threshold := "(" + scoreString(before)
	removed := 0

	iter := r.client.Scan(ctx, 0, r.cfg.KeyPrefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		n, err := r.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", threshold).Result()
		if err != nil {
			return removed, fmt.Errorf("redis prune %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

func (r *EventLogRepository) key(userID, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.KeyPrefix, userID, suffix)
}

// eventMember renders id|device|outcome.
func eventMember(event domain.AuthenticationEvent) string {
	device := anyDevice
	if event.DeviceID != nil && *event.DeviceID != "" {
		device = *event.DeviceID
	}
	return strings.Join([]string{event.ID, device, string(event.Outcome)}, "|")
}

func memberDevice(member string) string {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

var _ port.EventLog = (*EventLogRepository)(nil)
