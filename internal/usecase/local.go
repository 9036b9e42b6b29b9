package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/infra/security"
	"github.com/arklim/dispense-auth/internal/repository"
)

// LocalDeps groups the collaborators of LocalAuthenticator.
type LocalDeps struct {
	Credentials port.CredentialStore
	Events      port.EventLog
	Guard       port.AttemptGuard
	Admin       port.AccountAdmin
	Hashers     port.HasherRegistry
	Validator   port.PasswordPolicyValidator
	Publisher   port.EventPublisher
	Logger      *zap.Logger
	Clock       Clock
}

// LocalAuthenticator verifies passwords against the locally stored credential.
type LocalAuthenticator struct {
	credentials port.CredentialStore
	events      port.EventLog
	guard       port.AttemptGuard
	admin       port.AccountAdmin
	hashers     port.HasherRegistry
	validator   port.PasswordPolicyValidator
	publisher   port.EventPublisher
	evaluator   *LockoutEvaluator
	settings    domain.AuthSettings
	logger      *zap.Logger
	clock       Clock
}

// NewLocalAuthenticator constructs a LocalAuthenticator.
func NewLocalAuthenticator(settings domain.AuthSettings, deps LocalDeps) *LocalAuthenticator {
	return &LocalAuthenticator{
		credentials: deps.Credentials,
		events:      deps.Events,
		guard:       deps.Guard,
		admin:       deps.Admin,
		hashers:     deps.Hashers,
		validator:   deps.Validator,
		publisher:   deps.Publisher,
		evaluator:   NewLockoutEvaluator(deps.Events, settings),
		settings:    settings,
		logger:      loggerOrNop(deps.Logger),
		clock:       clockOrDefault(deps.Clock),
	}
}

// Kind reports the local backend.
func (a *LocalAuthenticator) Kind() domain.BackendKind {
	return domain.BackendLocal
}

// VerifyStatus checks the active, expired and locked flags in that order.
func (a *LocalAuthenticator) VerifyStatus(_ context.Context, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	if account == nil {
		return domain.AuthenticationResult{}, ErrAccountNotFound
	}
	switch {
	case !account.IsActive:
		return domain.NewResult(domain.OutcomeAccountInactive, domain.ReasonAccountInactive, account), nil
	case account.IsExpired(a.clock()):
		return domain.NewResult(domain.OutcomeAccountExpired, domain.ReasonAccountExpired, account), nil
	case account.IsLocked:
		return domain.NewResult(domain.OutcomeAccountLocked, domain.ReasonAccountLocked, account), nil
	}
	return domain.Success(account), nil
}

// Authenticate compares the password with the current credential, applying lockout on mismatch
// and aging on match.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, creds domain.Credentials, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	status, err := a.VerifyStatus(ctx, account)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if status.Outcome != domain.OutcomeSuccessful {
		return status, nil
	}

	cred, err := a.credentials.GetCurrent(ctx, account.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewResult(domain.OutcomeIncorrectPassword, domain.ReasonNoCredential, account), nil
		}
		return domain.AuthenticationResult{}, fmt.Errorf("load credential: %w", err)
	}

	matched, err := a.verify(creds.Password, cred)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if !matched {
		return a.recordFailure(ctx, creds, account)
	}

	if current := a.hashers.Current(); cred.Algorithm != current.Algorithm() {
		if err := a.rehash(ctx, creds.Password, cred, current); err != nil {
			return domain.AuthenticationResult{}, err
		}
	}

	now := a.clock()
	var result domain.AuthenticationResult
	switch state := EvaluateAging(*cred, a.settings, a.settings.LocalPolicy.MaxAge, now); state {
	case AgingMustChange:
		result = domain.NewResult(state.Outcome(), domain.ReasonPasswordExpired, account)
	case AgingTempExpired:
		result = domain.NewResult(state.Outcome(), domain.ReasonTempPasswordExpired, account)
	default:
		result = domain.Success(account)
	}

	if err := a.events.Append(ctx, newAttemptEvent(account.ID, creds.DeviceID, now, true, result)); err != nil {
		return domain.AuthenticationResult{}, fmt.Errorf("append authentication event: %w", err)
	}
	return result, nil
}

func (a *LocalAuthenticator) verify(password string, cred *domain.Credential) (bool, error) {
	hasher, err := a.hashers.ForAlgorithm(cred.Algorithm)
	if err != nil {
		return false, fmt.Errorf("resolve hasher: %w", err)
	}
	ok, err := hasher.Verify(password, cred.Hash, cred.Salt)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return ok, nil
}

// recordFailure evaluates lockout, persists the lock and appends the failed attempt under the per-account guard.
func (a *LocalAuthenticator) recordFailure(ctx context.Context, creds domain.Credentials, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	var (
		result   domain.AuthenticationResult
		lockedAt *domain.AccountLockedEvent
	)

	err := a.guard.Guard(ctx, account.ID, func(ctx context.Context) error {
		now := a.clock()
		decision, failures, err := a.evaluator.Evaluate(ctx, account.ID, now)
		if err != nil {
			return err
		}

		outcome, reason, subject := decision.Outcome(), domain.ReasonBadPassword, account
		if decision == LockoutLockNow {
			changed, err := a.admin.LockAccount(ctx, account.ID)
			if err != nil {
				return fmt.Errorf("lock account: %w", err)
			}
			locked := *account
			locked.IsLocked = true
			locked.LockedAt = &now
			subject = &locked
			if changed {
				lockedAt = &domain.AccountLockedEvent{
					EventID:        uuid.NewString(),
					UserID:         account.ID,
					LockedAt:       now,
					FailedAttempts: failures,
					DeviceID:       creds.DeviceID,
				}
			} else {
				outcome, reason = domain.OutcomeAccountAlreadyLocked, domain.ReasonAccountLocked
			}
		}

		result = domain.NewResult(outcome, reason, subject)
		if err := a.events.Append(ctx, newAttemptEvent(account.ID, creds.DeviceID, now, false, result)); err != nil {
			return fmt.Errorf("append authentication event: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AuthenticationResult{}, err
	}

	if lockedAt != nil {
		a.logger.Warn("account locked after repeated failures",
			zap.String("user_id", account.ID),
			zap.Int("failed_attempts", lockedAt.FailedAttempts),
		)
		if a.publisher != nil {
			if err := a.publisher.PublishAccountLocked(ctx, *lockedAt); err != nil {
				a.logger.Warn("publish account locked event failed", zap.String("user_id", account.ID), zap.Error(err))
			}
		}
	}
	return result, nil
}

// rehash stores the same password under the current algorithm, keeping the credential identity and age.
func (a *LocalAuthenticator) rehash(ctx context.Context, password string, cred *domain.Credential, current port.PasswordHasher) error {
	hash, salt, err := current.Hash(password)
	if err != nil {
		return fmt.Errorf("rehash password: %w", err)
	}
	updated := *cred
	updated.Hash = hash
	updated.Salt = salt
	updated.Algorithm = current.Algorithm()
	if err := a.credentials.InsertOrUpdate(ctx, cred.UserID, updated, a.historyRetention()); err != nil {
		return fmt.Errorf("store rehashed credential: %w", err)
	}
	a.logger.Info("credential migrated to current algorithm",
		zap.String("user_id", cred.UserID),
		zap.String("from", string(cred.Algorithm)),
		zap.String("to", string(updated.Algorithm)),
	)
	*cred = updated
	return nil
}

func (a *LocalAuthenticator) historyRetention() int {
	if a.settings.HistoryRetention > a.settings.LocalPolicy.HistoryLength {
		return a.settings.HistoryRetention
	}
	return a.settings.LocalPolicy.HistoryLength
}

// ListPasswordRules renders the local policy.
func (a *LocalAuthenticator) ListPasswordRules(context.Context) ([]string, error) {
	return a.settings.LocalPolicy.Rules(), nil
}

// GetMaxPasswordAge returns the local maximum password age.
func (a *LocalAuthenticator) GetMaxPasswordAge(context.Context) (domain.MaxPasswordAge, error) {
	return a.settings.LocalPolicy.MaxAge, nil
}

// ChangePassword verifies the old password and stores a user-chosen replacement.
func (a *LocalAuthenticator) ChangePassword(ctx context.Context, account *domain.UserAccount, oldPassword, newPassword string) (domain.AuthenticationResult, error) {
	status, err := a.VerifyStatus(ctx, account)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if status.Outcome != domain.OutcomeSuccessful {
		return status, nil
	}

	cred, err := a.credentials.GetCurrent(ctx, account.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewResult(domain.OutcomeIncorrectPassword, domain.ReasonNoCredential, account), nil
		}
		return domain.AuthenticationResult{}, fmt.Errorf("load credential: %w", err)
	}

	matched, err := a.verify(oldPassword, cred)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if !matched {
		return domain.NewResult(domain.OutcomeIncorrectPassword, domain.ReasonBadPassword, account), nil
	}

	if err := security.NewPasswordValidator(security.RequireDifferentFrom(oldPassword)).Validate(newPassword); err != nil {
		return domain.AuthenticationResult{}, ErrPasswordReused
	}
	if err := a.validator.Validate(newPassword, a.settings.LocalPolicy, account.Username, account.FirstName, account.LastName); err != nil {
		return domain.AuthenticationResult{}, fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	reused, err := a.matchesHistory(ctx, account.ID, newPassword)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if reused {
		return domain.AuthenticationResult{}, ErrPasswordReused
	}

	current := a.hashers.Current()
	hash, salt, err := current.Hash(newPassword)
	if err != nil {
		return domain.AuthenticationResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := a.clock()
	next := domain.Credential{
		ID:         uuid.NewString(),
		UserID:     account.ID,
		Hash:       hash,
		Salt:       salt,
		Algorithm:  current.Algorithm(),
		CreatedAt:  now,
		UserChange: domain.ChangedAt(now),
	}
	if err := a.credentials.InsertOrUpdate(ctx, account.ID, next, a.historyRetention()); err != nil {
		return domain.AuthenticationResult{}, fmt.Errorf("store credential: %w", err)
	}
	return domain.Success(account), nil
}

func (a *LocalAuthenticator) matchesHistory(ctx context.Context, userID, password string) (bool, error) {
	count := a.settings.LocalPolicy.HistoryLength
	if count <= 0 {
		return false, nil
	}
	history, err := a.credentials.GetHistory(ctx, userID, count)
	if err != nil {
		return false, fmt.Errorf("load credential history: %w", err)
	}
	for i := range history {
		ok, err := a.verify(password, &history[i])
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var _ Authenticator = (*LocalAuthenticator)(nil)
