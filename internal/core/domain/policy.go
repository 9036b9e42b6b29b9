package domain

import (
	"fmt"
	"time"
)

// MaxPasswordAge is either a bounded duration or unbounded.
type MaxPasswordAge struct {
	age     time.Duration
	bounded bool
}

// UnboundedAge means passwords never expire.
func UnboundedAge() MaxPasswordAge {
	return MaxPasswordAge{}
}

// BoundedAge returns an age limit of d; non-positive values are unbounded.
func BoundedAge(d time.Duration) MaxPasswordAge {
	if d <= 0 {
		return UnboundedAge()
	}
	return MaxPasswordAge{age: d, bounded: true}
}

// Duration returns the limit and whether one applies.
func (m MaxPasswordAge) Duration() (time.Duration, bool) {
	return m.age, m.bounded
}

// IsUnbounded reports whether passwords never expire.
func (m MaxPasswordAge) IsUnbounded() bool {
	return !m.bounded
}

// Exceeded reports whether a credential created at createdAt is past the limit at now.
func (m MaxPasswordAge) Exceeded(createdAt, now time.Time) bool {
	return m.bounded && now.Sub(createdAt) > m.age
}

// PasswordPolicy is the strength and aging rule set of a backend.
type PasswordPolicy struct {
	MinLength         int
	RequireComplexity bool
	MinCharClasses    int
	MinStrengthScore  int
	HistoryLength     int
	MaxAge            MaxPasswordAge
	LockoutThreshold  int
}

// Rules renders the policy as ordered, human-readable statements.
func (p PasswordPolicy) Rules() []string {
	rules := make([]string, 0, 5)
	if p.MinLength > 0 {
		rules = append(rules, fmt.Sprintf("Password must be at least %d characters long.", p.MinLength))
	}
	if p.RequireComplexity {
		classes := p.MinCharClasses
		if classes <= 0 {
			classes = 3
		}
		rules = append(rules, fmt.Sprintf("Password must contain characters from at least %d of: uppercase letters, lowercase letters, digits, symbols.", classes))
	}
	if p.MinStrengthScore > 0 {
		rules = append(rules, "Password must not be easy to guess.")
	}
	if p.HistoryLength > 0 {
		rules = append(rules, fmt.Sprintf("Password must differ from the last %d passwords.", p.HistoryLength))
	}
	if age, ok := p.MaxAge.Duration(); ok {
		rules = append(rules, fmt.Sprintf("Password expires after %d days.", int(age.Hours()/24)))
	}
	return rules
}

// DefaultTemporaryPasswordDuration applies when no temporary-password duration is configured.
const DefaultTemporaryPasswordDuration = 24 * time.Hour

// AuthSettings carries the site-wide lockout and aging configuration.
// Nil pointers mean "not configured".
type AuthSettings struct {
	LockoutWindow                     *time.Duration
	MaxRetryAttempts                  *int
	TemporaryPasswordDuration         *time.Duration
	ExemptNewAccountsFromTempDuration bool
	LocalPolicy                       PasswordPolicy
	CurrentAlgorithm                  HashAlgorithm
	HistoryRetention                  int
}

// TempPasswordDuration returns the configured temporary-password duration or the default.
func (s AuthSettings) TempPasswordDuration() time.Duration {
	if s.TemporaryPasswordDuration == nil || *s.TemporaryPasswordDuration <= 0 {
		return DefaultTemporaryPasswordDuration
	}
	return *s.TemporaryPasswordDuration
}
