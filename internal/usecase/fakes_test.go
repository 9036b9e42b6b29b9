package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/infra/security"
	"github.com/arklim/dispense-auth/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memCredentialStore struct {
	mu      sync.Mutex
	current map[string]domain.Credential
	history map[string][]domain.Credential
	writes  int
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{
		current: make(map[string]domain.Credential),
		history: make(map[string][]domain.Credential),
	}
}

func (s *memCredentialStore) GetCurrent(_ context.Context, userID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.current[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cred, nil
}

func (s *memCredentialStore) GetHistory(_ context.Context, userID string, count int) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history[userID]
	if count < len(history) {
		history = history[:count]
	}
	out := make([]domain.Credential, len(history))
	copy(out, history)
	return out, nil
}

func (s *memCredentialStore) HasInitialCredential(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred, ok := s.current[userID]; ok && cred.IsInitial {
		return true, nil
	}
	for _, cred := range s.history[userID] {
		if cred.IsInitial {
			return true, nil
		}
	}
	return false, nil
}

func (s *memCredentialStore) InsertOrUpdate(_ context.Context, userID string, cred domain.Credential, retention int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cred.UserID = userID
	if prev, ok := s.current[userID]; ok && prev.ID != cred.ID {
		history := append([]domain.Credential{prev}, s.history[userID]...)
		if len(history) > retention {
			history = history[:retention]
		}
		s.history[userID] = history
	}
	s.current[userID] = cred
	return nil
}

func (s *memCredentialStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type memEventLog struct {
	mu      sync.Mutex
	events  []domain.AuthenticationEvent
	unlocks map[string]time.Time
}

func newMemEventLog() *memEventLog {
	return &memEventLog{unlocks: make(map[string]time.Time)}
}

func (l *memEventLog) Append(_ context.Context, event domain.AuthenticationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *memEventLog) LastSuccessfulAttempt(_ context.Context, userID string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var last time.Time
	for _, e := range l.events {
		if e.UserID == userID && e.Succeeded && e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
	}
	return last, nil
}

func (l *memEventLog) LastUnlockTime(_ context.Context, userID string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unlocks[userID], nil
}

func (l *memEventLog) FailureCount(_ context.Context, userID string, deviceID *string, start, end time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, e := range l.events {
		if e.UserID != userID || e.Succeeded {
			continue
		}
		if deviceID != nil && (e.DeviceID == nil || *e.DeviceID != *deviceID) {
			continue
		}
		if e.OccurredAt.Before(start) || e.OccurredAt.After(end) {
			continue
		}
		count++
	}
	return count, nil
}

func (l *memEventLog) RecordUnlock(_ context.Context, userID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks[userID] = at
	return nil
}

func (l *memEventLog) Prune(_ context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	removed := 0
	for _, e := range l.events {
		if e.OccurredAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return removed, nil
}

func (l *memEventLog) Events() []domain.AuthenticationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuthenticationEvent, len(l.events))
	copy(out, l.events)
	return out
}

type mutexGuard struct {
	mu sync.Mutex
}

func (g *mutexGuard) Guard(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(ctx)
}

type memAccounts struct {
	mu          sync.Mutex
	accounts    map[string]domain.UserAccount
	lockChanges int
}

func newMemAccounts(accounts ...domain.UserAccount) *memAccounts {
	m := &memAccounts{accounts: make(map[string]domain.UserAccount)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memAccounts) GetByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			found := a
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAccounts) LockAccount(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if a.IsLocked {
		return false, nil
	}
	a.IsLocked = true
	m.accounts[userID] = a
	m.lockChanges++
	return true, nil
}

func (m *memAccounts) UnlockAccount(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !a.IsLocked {
		return false, nil
	}
	a.IsLocked = false
	m.accounts[userID] = a
	return true, nil
}

func (m *memAccounts) IsLocked(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID].IsLocked
}

type memDomains struct {
	domains map[string]domain.DirectoryDomain
}

func (m *memDomains) GetByID(_ context.Context, id string) (*domain.DirectoryDomain, error) {
	d, ok := m.domains[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

type fakeDirectoryClient struct {
	mu           sync.Mutex
	authStatus   domain.DirectoryStatus
	authErr      error
	verifyStatus domain.DirectoryStatus
	changeStatus domain.DirectoryStatus
	policy       domain.PasswordPolicy
	policyErr    error
	policyDelay  time.Duration
	policyCalls  atomic.Int32
	authCalls    atomic.Int32
}

func (c *fakeDirectoryClient) Authenticate(context.Context, string, string) (domain.DirectoryStatus, error) {
	c.authCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authStatus, c.authErr
}

func (c *fakeDirectoryClient) VerifyUser(context.Context, string) (domain.DirectoryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyStatus, nil
}

func (c *fakeDirectoryClient) GetPasswordPolicy(context.Context) (domain.PasswordPolicy, error) {
	c.policyCalls.Add(1)
	if c.policyDelay > 0 {
		time.Sleep(c.policyDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy, c.policyErr
}

func (c *fakeDirectoryClient) ChangePassword(context.Context, string, string, string) (domain.DirectoryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changeStatus, nil
}

type staticClientFactory struct {
	client port.DirectoryClient
	err    error
}

func (f staticClientFactory) ClientFor(context.Context, domain.DirectoryDomain) (port.DirectoryClient, error) {
	return f.client, f.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	locked   []domain.AccountLockedEvent
	unlocked []domain.AccountUnlockedEvent
	changed  []domain.PasswordChangedEvent
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, e domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, e)
	return nil
}

func (p *recordingPublisher) PublishAccountUnlocked(_ context.Context, e domain.AccountUnlockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = append(p.unlocked, e)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, e domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

func (p *recordingPublisher) LockedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locked)
}

type countingMetrics struct {
	mu        sync.Mutex
	outcomes  map[domain.Outcome]int
	fallbacks int
	hits      int
	misses    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: make(map[domain.Outcome]int)}
}

func (m *countingMetrics) ObserveOutcome(_ domain.BackendKind, o domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o]++
}

func (m *countingMetrics) IncFallback(domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *countingMetrics) IncPolicyCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *countingMetrics) IncPolicyCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *countingMetrics) ObserveDirectoryLatency(domain.BackendKind, time.Duration) {}

func newTestHashers(t *testing.T) *security.HasherRegistry {
	t.Helper()
	cfg := security.DefaultArgon2Config()
	cfg.Memory = 8 * 1024
	cfg.Iterations = 1
	argon, err := security.NewArgon2Hasher(cfg)
	if err != nil {
		t.Fatalf("argon2 hasher: %v", err)
	}
	registry, err := security.NewHasherRegistry(domain.HashAlgorithmArgon2id, argon, security.NewBcryptHasher(4), security.NewSHA256Hasher())
	if err != nil {
		t.Fatalf("hasher registry: %v", err)
	}
	return registry
}

func seedCredential(t *testing.T, store *memCredentialStore, hashers port.HasherRegistry, userID, password string, algo domain.HashAlgorithm, createdAt time.Time, change domain.PasswordChange, initial bool) domain.Credential {
	t.Helper()
	hasher, err := hashers.ForAlgorithm(algo)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, salt, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cred := domain.Credential{
		ID:         userID + "-" + string(algo) + "-" + createdAt.Format(time.RFC3339Nano),
		UserID:     userID,
		Hash:       hash,
		Salt:       salt,
		Algorithm:  algo,
		CreatedAt:  createdAt,
		IsInitial:  initial,
		UserChange: change,
	}
	if err := store.InsertOrUpdate(context.Background(), userID, cred, 10); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return cred
}

func intPtr(v int) *int { return &v }

func durationPtr(d time.Duration) *time.Duration { return &d }

func strPtr(s string) *string { return &s }

func lockoutSettings(window time.Duration, maxRetries int) domain.AuthSettings {
	return domain.AuthSettings{
		LockoutWindow:    durationPtr(window),
		MaxRetryAttempts: intPtr(maxRetries),
		LocalPolicy: domain.PasswordPolicy{
			MinLength:         10,
			RequireComplexity: true,
			MinCharClasses:    3,
			HistoryLength:     3,
			MaxAge:            domain.BoundedAge(90 * 24 * time.Hour),
		},
		CurrentAlgorithm: domain.HashAlgorithmArgon2id,
		HistoryRetention: 5,
	}
}

type localFixture struct {
	clock       *testClock
	accounts    *memAccounts
	credentials *memCredentialStore
	events      *memEventLog
	publisher   *recordingPublisher
	hashers     *security.HasherRegistry
	local       *LocalAuthenticator
}

func newLocalFixture(t *testing.T, settings domain.AuthSettings, accounts ...domain.UserAccount) *localFixture {
	t.Helper()
	f := &localFixture{
		clock:       newTestClock(),
		accounts:    newMemAccounts(accounts...),
		credentials: newMemCredentialStore(),
		events:      newMemEventLog(),
		publisher:   &recordingPublisher{},
		hashers:     newTestHashers(t),
	}
	f.local = NewLocalAuthenticator(settings, LocalDeps{
		Credentials: f.credentials,
		Events:      f.events,
		Guard:       &mutexGuard{},
		Admin:       f.accounts,
		Hashers:     f.hashers,
		Validator:   security.NewPolicyValidator(),
		Publisher:   f.publisher,
		Clock:       f.clock.Now,
	})
	return f
}

func (f *localFixture) account(t *testing.T, id string) *domain.UserAccount {
	t.Helper()
	a, err := f.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return a
}

func activeAccount(id string) domain.UserAccount {
	return domain.UserAccount{ID: id, Username: id, FirstName: "Test", LastName: "User", IsActive: true}
}
