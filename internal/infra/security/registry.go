package security

import (
	"fmt"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// HasherRegistry maps algorithm identifiers to hashers.
type HasherRegistry struct {
	current domain.HashAlgorithm
	hashers map[domain.HashAlgorithm]port.PasswordHasher
}

// NewHasherRegistry registers hashers and selects current as the algorithm for new credentials.
func NewHasherRegistry(current domain.HashAlgorithm, hashers ...port.PasswordHasher) (*HasherRegistry, error) {
	registry := &HasherRegistry{
		current: current,
		hashers: make(map[domain.HashAlgorithm]port.PasswordHasher, len(hashers)),
	}
	for _, h := range hashers {
		if h == nil {
			continue
		}
		registry.hashers[h.Algorithm()] = h
	}
	if _, ok := registry.hashers[current]; !ok {
		return nil, fmt.Errorf("current hash algorithm %q is not registered", current)
	}
	return registry, nil
}

// Current returns the hasher used for new credentials.
func (r *HasherRegistry) Current() port.PasswordHasher {
	return r.hashers[r.current]
}

// ForAlgorithm returns the hasher registered for algo.
func (r *HasherRegistry) ForAlgorithm(algo domain.HashAlgorithm) (port.PasswordHasher, error) {
	h, ok := r.hashers[algo]
	if !ok {
		return nil, fmt.Errorf("hash algorithm %q is not registered", algo)
	}
	return h, nil
}

var _ port.HasherRegistry = (*HasherRegistry)(nil)
