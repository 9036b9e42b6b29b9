package domain

import "testing"

func TestParseDisconnectedMode(t *testing.T) {
	cases := map[string]DisconnectedMode{
		"enabled":   DisconnectedModeEnabled,
		" ENABLED ": DisconnectedModeEnabled,
		"on":        DisconnectedModeEnabled,
		"disabled":  DisconnectedModeDisabled,
		"":          DisconnectedModeDisabled,
		"bogus":     DisconnectedModeDisabled,
	}
	for input, want := range cases {
		if got := ParseDisconnectedMode(input); got != want {
			t.Fatalf("ParseDisconnectedMode(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestDisconnectedPolicyAllowsCaching(t *testing.T) {
	regular := UserAccount{ID: "u1"}
	support := UserAccount{ID: "u2", IsSupportUser: true}

	disabled := NewDisconnectedPolicy(DisconnectedModeDisabled)
	if disabled.AllowsCaching(regular) {
		t.Fatalf("expected disabled policy to reject regular users")
	}
	if !disabled.AllowsCaching(support) {
		t.Fatalf("expected support users to be cacheable when disabled")
	}

	enabled := NewDisconnectedPolicy(DisconnectedModeEnabled)
	if !enabled.AllowsCaching(regular) || !enabled.AllowsCaching(support) {
		t.Fatalf("expected enabled policy to cache every directory user")
	}

	if NewDisconnectedPolicy("unknown").Mode() != DisconnectedModeDisabled {
		t.Fatalf("expected unknown mode to default to disabled")
	}
}
