package domain

import "strings"

// DisconnectedMode enumerates how directory-backed accounts behave when the directory cannot be reached.
type DisconnectedMode string

const (
	// DisconnectedModeDisabled caches and falls back only for support users.
	DisconnectedModeDisabled DisconnectedMode = "disabled"
	// DisconnectedModeEnabled caches verified directory passwords for every directory user.
	DisconnectedModeEnabled DisconnectedMode = "enabled"
)

// DisconnectedPolicy centralises whether a directory account may use a cached local credential.
type DisconnectedPolicy struct {
	mode DisconnectedMode
}

// NewDisconnectedPolicy constructs a policy with the provided mode, defaulting to disabled when unspecified.
func NewDisconnectedPolicy(mode DisconnectedMode) DisconnectedPolicy {
	if mode != DisconnectedModeEnabled {
		mode = DisconnectedModeDisabled
	}
	return DisconnectedPolicy{mode: mode}
}

// ParseDisconnectedMode normalises textual input into a supported mode.
func ParseDisconnectedMode(value string) DisconnectedMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DisconnectedModeEnabled), "true", "on":
		return DisconnectedModeEnabled
	default:
		return DisconnectedModeDisabled
	}
}

// Mode returns the underlying mode.
func (p DisconnectedPolicy) Mode() DisconnectedMode {
	return p.mode
}

// IsEnabled reports whether caching applies to every directory account.
func (p DisconnectedPolicy) IsEnabled() bool {
	return p.mode == DisconnectedModeEnabled
}

// AllowsCaching determines whether verified passwords of account may be cached and used for fallback.
// Support users are always cacheable.
func (p DisconnectedPolicy) AllowsCaching(account UserAccount) bool {
	return p.IsEnabled() || account.IsSupportUser
}
