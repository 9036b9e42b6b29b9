package port

import (
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// AuthMetrics captures telemetry hooks for authentication flows.
type AuthMetrics interface {
	ObserveOutcome(backend domain.BackendKind, outcome domain.Outcome)
	IncFallback(outcome domain.Outcome)
	IncPolicyCacheHit()
	IncPolicyCacheMiss()
	ObserveDirectoryLatency(backend domain.BackendKind, duration time.Duration)
}
