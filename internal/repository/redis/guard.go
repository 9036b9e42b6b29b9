package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/dispense-auth/internal/core/port"
)

// ErrGuardTimeout is returned when the account lock could not be acquired in time.
var ErrGuardTimeout = errors.New("redis guard: timed out waiting for account lock")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// GuardConfig tunes the distributed account lock.
type GuardConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
}

// AttemptGuard implements port.AttemptGuard with a SET NX lease released by compare-and-delete.
type AttemptGuard struct {
	client redis.UniversalClient
	cfg    GuardConfig
}

// NewAttemptGuard constructs a guard; zero values fall back to conservative defaults.
func NewAttemptGuard(client redis.UniversalClient, cfg GuardConfig) *AttemptGuard {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "auth:guard"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 5 * time.Second
	}
	return &AttemptGuard{client: client, cfg: cfg}
}

// Guard runs fn while holding the per-account lease.
func (g *AttemptGuard) Guard(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("%s:%s", g.cfg.KeyPrefix, userID)
	token := uuid.NewString()

	if err := g.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// Release even if the caller context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}

func (g *AttemptGuard) acquire(ctx context.Context, key, token string) error {
	deadline := time.NewTimer(g.cfg.WaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := g.client.SetNX(ctx, key, token, g.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("redis guard acquire: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrGuardTimeout
		case <-ticker.C:
		}
	}
}

var _ port.AttemptGuard = (*AttemptGuard)(nil)
