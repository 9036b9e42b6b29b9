package usecase

import (
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// AgingState is the resolved password-aging state after a successful match.
type AgingState int

const (
	// AgingActive means the credential is within its maximum age.
	AgingActive AgingState = iota
	// AgingMustChange means the password must be changed before continuing.
	AgingMustChange
	// AgingTempExpired means a never-changed credential outlived its grace period.
	AgingTempExpired
)

// Outcome maps the state onto the closed outcome set.
func (s AgingState) Outcome() domain.Outcome {
	switch s {
	case AgingMustChange:
		return domain.OutcomeChangePasswordRequired
	case AgingTempExpired:
		return domain.OutcomeTempPasswordExpired
	default:
		return domain.OutcomeSuccessful
	}
}

// EvaluateAging resolves the state of a matched credential at now.
func EvaluateAging(cred domain.Credential, settings domain.AuthSettings, maxAge domain.MaxPasswordAge, now time.Time) AgingState {
	if !maxAge.Exceeded(cred.CreatedAt, now) {
		return AgingActive
	}
	if cred.UserChange.IsUserChanged() {
		return AgingMustChange
	}
	if settings.ExemptNewAccountsFromTempDuration && cred.IsInitial {
		return AgingMustChange
	}
	deadline := cred.CreatedAt.Add(settings.TempPasswordDuration())
	if now.After(deadline) {
		return AgingTempExpired
	}
	return AgingMustChange
}
