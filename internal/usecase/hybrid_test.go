package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

type hybridFixture struct {
	*localFixture
	client  *fakeDirectoryClient
	metrics *countingMetrics
	hybrid  *HybridCoordinator
}

func newHybridFixture(t *testing.T, mode domain.DisconnectedMode, status domain.DirectoryStatus, account domain.UserAccount) *hybridFixture {
	t.Helper()
	settings := lockoutSettings(time.Hour, 5)
	settings.LocalPolicy.MaxAge = domain.BoundedAge(time.Hour)
	settings.TemporaryPasswordDuration = durationPtr(365 * 24 * time.Hour)

	domainID := "d1"
	account.DomainID = &domainID

	lf := newLocalFixture(t, settings, account)
	client := &fakeDirectoryClient{authStatus: status, verifyStatus: status, changeStatus: domain.DirectorySuccess}
	metrics := newCountingMetrics()
	remote := NewDirectoryAuthenticator(domain.DirectoryDomain{ID: domainID, FQDN: "corp.example.org"}, RemoteDeps{
		Client:  client,
		Events:  lf.events,
		Metrics: metrics,
		Logger:  zaptest.NewLogger(t),
		Clock:   lf.clock.Now,
	})
	hybrid := NewHybridCoordinator(remote, lf.local, domain.NewDisconnectedPolicy(mode), HybridDeps{
		Credentials: lf.credentials,
		Hashers:     lf.hashers,
		Metrics:     metrics,
		Logger:      zaptest.NewLogger(t),
		Clock:       lf.clock.Now,
	})
	return &hybridFixture{localFixture: lf, client: client, metrics: metrics, hybrid: hybrid}
}

func TestHybridFallbackCoercesChangePasswordRequired(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeEnabled, domain.DirectoryError, activeAccount("u1"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Cached-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now().Add(-2*time.Hour), domain.NeverChanged(), true)

	account := f.account(t, "u1")
	local, err := f.local.Authenticate(context.Background(), domain.Credentials{Password: "Cached-Pass-1"}, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.Outcome != domain.OutcomeChangePasswordRequired {
		t.Fatalf("precondition: expected local aging to require change, got %s", local.Outcome)
	}

	result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "Cached-Pass-1"}, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected fallback success, got %s", result.Outcome)
	}
	if f.metrics.fallbacks != 1 {
		t.Fatalf("expected one fallback, got %d", f.metrics.fallbacks)
	}
}

func TestHybridFallbackWithoutCachedCredentialFailsClosed(t *testing.T) {
	for _, status := range []domain.DirectoryStatus{domain.DirectoryError, domain.DirectoryNotFound} {
		f := newHybridFixture(t, domain.DisconnectedModeEnabled, status, activeAccount("u1"))

		result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "anything"}, f.account(t, "u1"))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}
		if result.Outcome != domain.OutcomeDomainError {
			t.Fatalf("%s: expected domain error, got %s", status, result.Outcome)
		}
		if result.Reason != domain.ReasonNoCachedCredential {
			t.Fatalf("%s: expected no cached credential reason, got %s", status, result.Reason)
		}
		if result.IsAuthenticated() {
			t.Fatalf("%s: expected fail closed", status)
		}
	}
}

func TestHybridFallbackWrongPasswordCountsTowardLockout(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeEnabled, domain.DirectoryError, activeAccount("u1"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Cached-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)

	result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "nope"}, f.account(t, "u1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeIncorrectPassword {
		t.Fatalf("expected incorrect password, got %s", result.Outcome)
	}
	events := f.events.Events()
	if len(events) != 1 || events[0].Succeeded {
		t.Fatalf("expected a single failed attempt event, got %+v", events)
	}
}

func TestHybridDisabledModePassesThrough(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeDisabled, domain.DirectoryError, activeAccount("u1"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Cached-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)

	result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "Cached-Pass-1"}, f.account(t, "u1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeDomainError || result.Reason != domain.ReasonDirectoryError {
		t.Fatalf("expected unchanged directory outcome, got %s/%s", result.Outcome, result.Reason)
	}
	if f.metrics.fallbacks != 0 {
		t.Fatal("expected no fallback when disconnected mode is disabled")
	}
}

func TestHybridSupportUserAlwaysFallsBack(t *testing.T) {
	support := activeAccount("s1")
	support.IsSupportUser = true
	f := newHybridFixture(t, domain.DisconnectedModeDisabled, domain.DirectoryError, support)
	seedCredential(t, f.credentials, f.hashers, "s1", "Support-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)

	result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "Support-Pass-1"}, f.account(t, "s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected support user fallback success, got %s", result.Outcome)
	}
}

func TestHybridNonEligibleOutcomesPassThrough(t *testing.T) {
	for _, status := range []domain.DirectoryStatus{domain.DirectoryFailed, domain.DirectoryLocked, domain.DirectoryExpired} {
		f := newHybridFixture(t, domain.DisconnectedModeEnabled, status, activeAccount("u1"))
		seedCredential(t, f.credentials, f.hashers, "u1", "Cached-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)

		result, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "Cached-Pass-1"}, f.account(t, "u1"))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}
		if result.Outcome != translateDirectoryStatus(status) {
			t.Fatalf("%s: expected pass-through, got %s", status, result.Outcome)
		}
	}
}

func TestHybridSuccessRefreshesCacheOnlyWhenChanged(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeEnabled, domain.DirectorySuccess, activeAccount("u1"))
	ctx := context.Background()
	account := f.account(t, "u1")

	if _, err := f.hybrid.Authenticate(ctx, domain.Credentials{Password: "Directory-Pass-1"}, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cred, err := f.credentials.GetCurrent(ctx, "u1")
	if err != nil {
		t.Fatalf("expected cached credential, got %v", err)
	}
	if cred.UserChange.IsUserChanged() {
		t.Fatal("expected directory-originated credential to be marked never changed")
	}
	if !cred.IsInitial {
		t.Fatal("expected first cached credential to be initial")
	}
	writes := f.credentials.Writes()

	f.clock.Advance(time.Minute)
	if _, err := f.hybrid.Authenticate(ctx, domain.Credentials{Password: "Directory-Pass-1"}, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.credentials.Writes() != writes {
		t.Fatal("expected unchanged password not to rewrite the cache")
	}

	f.clock.Advance(time.Minute)
	if _, err := f.hybrid.Authenticate(ctx, domain.Credentials{Password: "Directory-Pass-2"}, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.credentials.Writes() != writes+1 {
		t.Fatalf("expected one cache refresh, got %d writes", f.credentials.Writes()-writes)
	}
	cred, _ = f.credentials.GetCurrent(ctx, "u1")
	if cred.IsInitial || cred.UserChange.IsUserChanged() {
		t.Fatalf("unexpected refreshed credential flags %+v", cred)
	}
}

func TestHybridDisabledModeDoesNotCache(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeDisabled, domain.DirectorySuccess, activeAccount("u1"))

	if _, err := f.hybrid.Authenticate(context.Background(), domain.Credentials{Password: "Directory-Pass-1"}, f.account(t, "u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.credentials.Writes() != 0 {
		t.Fatal("expected no cached credential when disconnected mode is disabled")
	}
}

func TestHybridChangePasswordRefreshesCache(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeEnabled, domain.DirectorySuccess, activeAccount("u1"))
	ctx := context.Background()

	result, err := f.hybrid.ChangePassword(ctx, f.account(t, "u1"), "Old-Pass-1", "New-Directory-Pass-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	cred, err := f.credentials.GetCurrent(ctx, "u1")
	if err != nil {
		t.Fatalf("expected cached credential: %v", err)
	}
	ok, _ := f.hashers.Current().Verify("New-Directory-Pass-2", cred.Hash, cred.Salt)
	if !ok {
		t.Fatal("expected cache to hold the new directory password")
	}
}

func TestHybridRulesFallBackToLocalPolicy(t *testing.T) {
	f := newHybridFixture(t, domain.DisconnectedModeEnabled, domain.DirectoryError, activeAccount("u1"))
	f.client.policyErr = context.DeadlineExceeded

	rules, err := f.hybrid.ListPasswordRules(context.Background())
	if err != nil {
		t.Fatalf("expected local rules in disconnected mode, got %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("expected local rules")
	}

	disabled := newHybridFixture(t, domain.DisconnectedModeDisabled, domain.DirectoryError, activeAccount("u1"))
	disabled.client.policyErr = context.DeadlineExceeded
	if _, err := disabled.hybrid.ListPasswordRules(context.Background()); err == nil {
		t.Fatal("expected error when disconnected mode is disabled")
	}
}
