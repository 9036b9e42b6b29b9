package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

type serviceFixture struct {
	*localFixture
	client  *fakeDirectoryClient
	metrics *countingMetrics
	factory *AuthenticatorFactory
	service *AuthService
}

func newServiceFixture(t *testing.T, accounts ...domain.UserAccount) *serviceFixture {
	t.Helper()
	lf := newLocalFixture(t, lockoutSettings(time.Hour, 3), accounts...)
	client := &fakeDirectoryClient{authStatus: domain.DirectorySuccess, verifyStatus: domain.DirectorySuccess, changeStatus: domain.DirectorySuccess}
	metrics := newCountingMetrics()
	logger := zaptest.NewLogger(t)

	factory := NewAuthenticatorFactory(lf.local, domain.NewDisconnectedPolicy(domain.DisconnectedModeEnabled), FactoryDeps{
		Domains: &memDomains{domains: map[string]domain.DirectoryDomain{
			"ldap": {ID: "ldap", FQDN: "corp.example.org", Kind: domain.DirectoryKindLDAP, IsActive: true},
			"idp":  {ID: "idp", FQDN: "idp.example.org", Kind: domain.DirectoryKindFederated, IsActive: true},
			"off":  {ID: "off", FQDN: "off.example.org", Kind: domain.DirectoryKindLDAP, IsActive: false},
		}},
		Clients:     staticClientFactory{client: client},
		Credentials: lf.credentials,
		Events:      lf.events,
		Hashers:     lf.hashers,
		Policies:    NewPolicyCache(time.Hour, metrics, lf.clock.Now),
		Metrics:     metrics,
		Logger:      logger,
		Clock:       lf.clock.Now,
	})
	service := NewAuthService(lf.accounts, lf.accounts, lf.events, factory, lf.publisher, metrics, logger, lf.clock.Now)
	return &serviceFixture{localFixture: lf, client: client, metrics: metrics, factory: factory, service: service}
}

func directoryAccount(id, domainID string) domain.UserAccount {
	a := activeAccount(id)
	a.DomainID = &domainID
	return a
}

func TestFactorySelectsBackendOnce(t *testing.T) {
	f := newServiceFixture(t, activeAccount("local"), directoryAccount("dir", "ldap"), directoryAccount("fed", "idp"))
	ctx := context.Background()

	cases := map[string]domain.BackendKind{
		"local": domain.BackendLocal,
		"dir":   domain.BackendDirectory,
		"fed":   domain.BackendFederated,
	}
	for id, kind := range cases {
		auth, err := f.factory.For(ctx, f.account(t, id))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id, err)
		}
		if auth.Kind() != kind {
			t.Fatalf("%s: expected %s, got %s", id, kind, auth.Kind())
		}
		if kind != domain.BackendLocal {
			if _, ok := auth.(*HybridCoordinator); !ok {
				t.Fatalf("%s: expected directory backends to be wrapped in the hybrid coordinator", id)
			}
		}
	}
}

func TestServiceAuthenticateLocalUser(t *testing.T) {
	f := newServiceFixture(t, activeAccount("u1"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Corr3ct-Horse!", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.ChangedAt(f.clock.Now()), true)

	result, err := f.service.Authenticate(context.Background(), AuthenticateRequest{Username: "u1", Password: "Corr3ct-Horse!", DeviceID: strPtr("cab-7")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsAuthenticated() || result.Account == nil || result.Account.ID != "u1" {
		t.Fatalf("unexpected result %+v", result)
	}
	events := f.events.Events()
	if len(events) != 1 || events[0].DeviceID == nil || *events[0].DeviceID != "cab-7" {
		t.Fatalf("expected one event carrying the device, got %+v", events)
	}
	if f.metrics.outcomes[domain.OutcomeSuccessful] != 1 {
		t.Fatalf("expected outcome metric, got %v", f.metrics.outcomes)
	}
}

func TestServiceAuthenticateUnknownUser(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.Authenticate(context.Background(), AuthenticateRequest{UserID: "ghost", Password: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeIncorrectPassword || result.Reason != domain.ReasonUserNotFound {
		t.Fatalf("expected masked not-found, got %s/%s", result.Outcome, result.Reason)
	}
}

func TestServiceAuthenticateValidation(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.service.Authenticate(context.Background(), AuthenticateRequest{Password: "x"}); !errors.Is(err, ErrIdentifierRequired) {
		t.Fatalf("expected ErrIdentifierRequired, got %v", err)
	}
	if _, err := f.service.Authenticate(context.Background(), AuthenticateRequest{UserID: "u1"}); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestServiceInactiveDomainFallsBack(t *testing.T) {
	f := newServiceFixture(t, directoryAccount("u1", "off"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Cached-Pass-1", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)

	result, err := f.service.Authenticate(context.Background(), AuthenticateRequest{UserID: "u1", Password: "Cached-Pass-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected fallback success for inactive domain, got %s", result.Outcome)
	}
	if f.client.authCalls.Load() != 0 {
		t.Fatal("expected inactive domain not to be contacted")
	}
}

func TestServiceLockoutAndUnlock(t *testing.T) {
	f := newServiceFixture(t, activeAccount("u1"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Corr3ct-Horse!", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.ChangedAt(f.clock.Now()), true)
	ctx := context.Background()

	var last domain.AuthenticationResult
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		result, err := f.service.Authenticate(ctx, AuthenticateRequest{UserID: "u1", Password: "bad"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		last = result
	}
	if last.Outcome != domain.OutcomeAccountLocking {
		t.Fatalf("expected third failure to lock, got %s", last.Outcome)
	}

	status, err := f.service.VerifyStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Outcome != domain.OutcomeAccountLocked {
		t.Fatalf("expected locked status, got %s", status.Outcome)
	}

	f.clock.Advance(time.Second)
	unlocked, err := f.service.UnlockAccount(ctx, "u1", "admin")
	if err != nil || !unlocked {
		t.Fatalf("expected unlock, unlocked=%v err=%v", unlocked, err)
	}
	unlocked, err = f.service.UnlockAccount(ctx, "u1", "admin")
	if err != nil || unlocked {
		t.Fatalf("expected second unlock to be a no-op, unlocked=%v err=%v", unlocked, err)
	}
	if len(f.publisher.unlocked) != 1 {
		t.Fatalf("expected one unlock event, got %d", len(f.publisher.unlocked))
	}

	f.clock.Advance(time.Second)
	result, err := f.service.Authenticate(ctx, AuthenticateRequest{UserID: "u1", Password: "Corr3ct-Horse!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected success after unlock, got %s", result.Outcome)
	}

	if _, err := f.service.UnlockAccount(ctx, "ghost", "admin"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestServiceChangePasswordPublishes(t *testing.T) {
	f := newServiceFixture(t, activeAccount("u1"), directoryAccount("d1", "ldap"))
	seedCredential(t, f.credentials, f.hashers, "u1", "Original-Pass-9", domain.HashAlgorithmArgon2id, f.clock.Now(), domain.NeverChanged(), true)
	ctx := context.Background()

	result, err := f.service.ChangePassword(ctx, "u1", "Original-Pass-9", "Brand-New-Pass-1")
	if err != nil || result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected local change, outcome=%s err=%v", result.Outcome, err)
	}
	result, err = f.service.ChangePassword(ctx, "d1", "Dir-Old-1", "Dir-New-Pass-2")
	if err != nil || result.Outcome != domain.OutcomeSuccessful {
		t.Fatalf("expected directory change, outcome=%s err=%v", result.Outcome, err)
	}

	if len(f.publisher.changed) != 2 {
		t.Fatalf("expected two password changed events, got %d", len(f.publisher.changed))
	}
	if f.publisher.changed[0].Backend != domain.BackendLocal || f.publisher.changed[1].Backend != domain.BackendDirectory {
		t.Fatalf("unexpected backends %+v", f.publisher.changed)
	}

	result, err = f.service.ChangePassword(ctx, "u1", "wrong", "Another-Pass-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.OutcomeIncorrectPassword || len(f.publisher.changed) != 2 {
		t.Fatalf("expected rejected change without event, got %s", result.Outcome)
	}
}

func TestServiceRulesAndMaxAge(t *testing.T) {
	f := newServiceFixture(t, activeAccount("u1"), directoryAccount("d1", "ldap"))
	f.client.policy = domain.PasswordPolicy{MinLength: 14, MaxAge: domain.UnboundedAge()}
	ctx := context.Background()

	rules, err := f.service.ListPasswordRules(ctx, "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected directory rules, got %v", rules)
	}
	age, err := f.service.GetMaxPasswordAge(ctx, "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !age.IsUnbounded() {
		t.Fatal("expected unbounded directory max age")
	}
	if f.client.policyCalls.Load() != 1 {
		t.Fatalf("expected cached policy, got %d fetches", f.client.policyCalls.Load())
	}

	age, err = f.service.GetMaxPasswordAge(ctx, "u1")
	if err != nil || age.IsUnbounded() {
		t.Fatalf("expected local bounded age, err=%v", err)
	}

	if _, err := f.service.ListPasswordRules(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestServicePruneEvents(t *testing.T) {
	f := newServiceFixture(t, activeAccount("u1"))
	ctx := context.Background()
	_ = f.events.Append(ctx, domain.AuthenticationEvent{UserID: "u1", OccurredAt: f.clock.Now().Add(-100 * 24 * time.Hour)})
	_ = f.events.Append(ctx, domain.AuthenticationEvent{UserID: "u1", OccurredAt: f.clock.Now()})

	removed, err := f.service.PruneEvents(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 || len(f.events.Events()) != 1 {
		t.Fatalf("expected one pruned event, removed=%d remaining=%d", removed, len(f.events.Events()))
	}
}
