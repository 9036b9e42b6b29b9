package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

func TestEvaluateAging(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	maxAge := domain.BoundedAge(time.Hour)
	settings := domain.AuthSettings{TemporaryPasswordDuration: durationPtr(24 * time.Hour)}

	cases := []struct {
		name     string
		cred     domain.Credential
		settings domain.AuthSettings
		maxAge   domain.MaxPasswordAge
		expect   AgingState
	}{
		{
			name:     "within max age",
			cred:     domain.Credential{CreatedAt: now.Add(-30 * time.Minute)},
			settings: settings,
			maxAge:   maxAge,
			expect:   AgingActive,
		},
		{
			name:     "unbounded never expires",
			cred:     domain.Credential{CreatedAt: now.Add(-1000 * time.Hour)},
			settings: settings,
			maxAge:   domain.UnboundedAge(),
			expect:   AgingActive,
		},
		{
			name:     "temporary password past grace",
			cred:     domain.Credential{CreatedAt: now.Add(-25 * time.Hour)},
			settings: settings,
			maxAge:   maxAge,
			expect:   AgingTempExpired,
		},
		{
			name:     "temporary password within grace",
			cred:     domain.Credential{CreatedAt: now.Add(-23 * time.Hour)},
			settings: settings,
			maxAge:   maxAge,
			expect:   AgingMustChange,
		},
		{
			name:     "user changed password always must change",
			cred:     domain.Credential{CreatedAt: now.Add(-500 * time.Hour), UserChange: domain.ChangedAt(now.Add(-500 * time.Hour))},
			settings: settings,
			maxAge:   maxAge,
			expect:   AgingMustChange,
		},
		{
			name:     "exempt initial credential",
			cred:     domain.Credential{CreatedAt: now.Add(-48 * time.Hour), IsInitial: true},
			settings: domain.AuthSettings{TemporaryPasswordDuration: durationPtr(24 * time.Hour), ExemptNewAccountsFromTempDuration: true},
			maxAge:   maxAge,
			expect:   AgingMustChange,
		},
		{
			name:     "exemption ignores non initial credential",
			cred:     domain.Credential{CreatedAt: now.Add(-48 * time.Hour)},
			settings: domain.AuthSettings{TemporaryPasswordDuration: durationPtr(24 * time.Hour), ExemptNewAccountsFromTempDuration: true},
			maxAge:   maxAge,
			expect:   AgingTempExpired,
		},
		{
			name:     "default temporary duration is one day",
			cred:     domain.Credential{CreatedAt: now.Add(-25 * time.Hour)},
			settings: domain.AuthSettings{},
			maxAge:   maxAge,
			expect:   AgingTempExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateAging(tc.cred, tc.settings, tc.maxAge, now); got != tc.expect {
				t.Fatalf("expected %v, got %v", tc.expect, got)
			}
		})
	}
}

func TestLocalTemporaryPasswordExpiry(t *testing.T) {
	settings := lockoutSettings(time.Hour, 5)
	settings.TemporaryPasswordDuration = durationPtr(24 * time.Hour)
	settings.LocalPolicy.MaxAge = domain.BoundedAge(time.Hour)

	cases := []struct {
		age    time.Duration
		expect domain.Outcome
		reason domain.FailureReason
	}{
		{age: 25 * time.Hour, expect: domain.OutcomeTempPasswordExpired, reason: domain.ReasonTempPasswordExpired},
		{age: 23 * time.Hour, expect: domain.OutcomeChangePasswordRequired, reason: domain.ReasonPasswordExpired},
	}

	for _, tc := range cases {
		f := newLocalFixture(t, settings, activeAccount("u1"))
		seedCredential(t, f.credentials, f.hashers, "u1", "Temp-Pass-123", domain.HashAlgorithmArgon2id, f.clock.Now().Add(-tc.age), domain.NeverChanged(), false)

		result, err := f.local.Authenticate(context.Background(), domain.Credentials{Password: "Temp-Pass-123"}, f.account(t, "u1"))
		if err != nil {
			t.Fatalf("age %s: unexpected error: %v", tc.age, err)
		}
		if result.Outcome != tc.expect {
			t.Fatalf("age %s: expected %s, got %s", tc.age, tc.expect, result.Outcome)
		}
		if result.Reason != tc.reason {
			t.Fatalf("age %s: expected reason %s, got %s", tc.age, tc.reason, result.Reason)
		}
		if tc.expect == domain.OutcomeChangePasswordRequired && !result.IsAuthenticated() {
			t.Fatal("expected change-password-required to count as authenticated")
		}
		if tc.expect == domain.OutcomeTempPasswordExpired && result.IsAuthenticated() {
			t.Fatal("expected temp-password-expired to block authentication")
		}
	}
}
