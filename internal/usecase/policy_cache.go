package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// DefaultPolicyCacheTTL is the lifetime of one cache generation.
const DefaultPolicyCacheTTL = time.Hour

// PolicyFetcher loads a policy from its directory.
type PolicyFetcher func(ctx context.Context) (domain.PasswordPolicy, error)

type policyGeneration struct {
	started time.Time
	entries sync.Map
}

// PolicyCache holds directory password policies keyed by domain FQDN.
// All entries share one TTL: when the generation expires the whole set is dropped.
// Concurrent misses may fetch twice; the last store wins.
type PolicyCache struct {
	ttl     time.Duration
	clock   Clock
	metrics port.AuthMetrics
	current atomic.Pointer[policyGeneration]
}

// NewPolicyCache builds an empty cache. A non-positive ttl selects DefaultPolicyCacheTTL.
func NewPolicyCache(ttl time.Duration, metrics port.AuthMetrics, clock Clock) *PolicyCache {
	if ttl <= 0 {
		ttl = DefaultPolicyCacheTTL
	}
	c := &PolicyCache{
		ttl:     ttl,
		clock:   clockOrDefault(clock),
		metrics: metricsOrNoop(metrics),
	}
	c.current.Store(&policyGeneration{started: c.clock()})
	return c
}

// TTL returns the shared entry lifetime.
func (c *PolicyCache) TTL() time.Duration {
	return c.ttl
}

func (c *PolicyCache) generation() *policyGeneration {
	gen := c.current.Load()
	now := c.clock()
	if now.Sub(gen.started) < c.ttl {
		return gen
	}
	c.current.CompareAndSwap(gen, &policyGeneration{started: now})
	return c.current.Load()
}

// Get returns the cached policy for key, calling fetch on a miss. Fetch errors are not cached.
func (c *PolicyCache) Get(ctx context.Context, key string, fetch PolicyFetcher) (domain.PasswordPolicy, error) {
	gen := c.generation()
	if cached, ok := gen.entries.Load(key); ok {
		c.metrics.IncPolicyCacheHit()
		return cached.(domain.PasswordPolicy), nil
	}
	c.metrics.IncPolicyCacheMiss()

	policy, err := fetch(ctx)
	if err != nil {
		return domain.PasswordPolicy{}, err
	}
	gen.entries.Store(key, policy)
	return policy, nil
}

// Evict drops every entry if the generation has expired and reports whether it did.
func (c *PolicyCache) Evict() bool {
	gen := c.current.Load()
	if c.clock().Sub(gen.started) < c.ttl {
		return false
	}
	return c.current.CompareAndSwap(gen, &policyGeneration{started: c.clock()})
}

// Reset drops every entry unconditionally.
func (c *PolicyCache) Reset() {
	c.current.Store(&policyGeneration{started: c.clock()})
}

// Len counts the entries of the live generation.
func (c *PolicyCache) Len() int {
	n := 0
	c.generation().entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
