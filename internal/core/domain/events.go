package domain

import "time"

// AuthenticationEvent is one entry of the append-only attempt log.
type AuthenticationEvent struct {
	ID            string
	UserID        string
	OccurredAt    time.Time
	Succeeded     bool
	DeviceID      *string
	FailureReason FailureReason
	Outcome       Outcome
}

// AccountLockedEvent represents the payload for dispense.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	UserID         string
	LockedAt       time.Time
	FailedAttempts int
	DeviceID       *string
	Metadata       map[string]any
}

// AccountUnlockedEvent represents the payload for dispense.account.unlocked messages.
type AccountUnlockedEvent struct {
	EventID    string
	UserID     string
	UnlockedAt time.Time
	UnlockedBy string
}

// PasswordChangedEvent represents the payload for dispense.account.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	UserID    string
	ChangedAt time.Time
	Backend   BackendKind
	Metadata  map[string]any
}
