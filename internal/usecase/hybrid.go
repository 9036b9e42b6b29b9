package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/repository"
)

// HybridDeps groups the collaborators of HybridCoordinator.
type HybridDeps struct {
	Credentials port.CredentialStore
	Hashers     port.HasherRegistry
	Metrics     port.AuthMetrics
	Logger      *zap.Logger
	Clock       Clock
}

// HybridCoordinator runs a directory-backed authenticator and falls back to the
// locally cached shadow credential when the directory cannot answer.
type HybridCoordinator struct {
	remote      Authenticator
	local       *LocalAuthenticator
	mode        domain.DisconnectedPolicy
	credentials port.CredentialStore
	hashers     port.HasherRegistry
	retention   int
	metrics     port.AuthMetrics
	logger      *zap.Logger
	clock       Clock
}

// NewHybridCoordinator wraps remote with local fallback governed by mode.
func NewHybridCoordinator(remote Authenticator, local *LocalAuthenticator, mode domain.DisconnectedPolicy, deps HybridDeps) *HybridCoordinator {
	retention := 0
	if local != nil {
		retention = local.historyRetention()
	}
	return &HybridCoordinator{
		remote:      remote,
		local:       local,
		mode:        mode,
		credentials: deps.Credentials,
		hashers:     deps.Hashers,
		retention:   retention,
		metrics:     metricsOrNoop(deps.Metrics),
		logger:      loggerOrNop(deps.Logger),
		clock:       clockOrDefault(deps.Clock),
	}
}

// Kind reports the wrapped backend.
func (h *HybridCoordinator) Kind() domain.BackendKind {
	return h.remote.Kind()
}

// Authenticate tries the directory first, refreshing or consulting the shadow credential as needed.
func (h *HybridCoordinator) Authenticate(ctx context.Context, creds domain.Credentials, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	result, err := h.remote.Authenticate(ctx, creds, account)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}

	switch {
	case result.Outcome == domain.OutcomeSuccessful:
		if h.mode.AllowsCaching(*account) {
			if err := h.syncShadow(ctx, account, creds.Password); err != nil {
				h.logger.Warn("refresh cached credential failed", zap.String("user_id", account.ID), zap.Error(err))
			}
		}
		return result, nil

	case result.Outcome.AllowsLocalFallback():
		if !h.mode.AllowsCaching(*account) {
			return result, nil
		}
		return h.fallback(ctx, creds, account, result)

	default:
		return result, nil
	}
}

func (h *HybridCoordinator) fallback(ctx context.Context, creds domain.Credentials, account *domain.UserAccount, remote domain.AuthenticationResult) (domain.AuthenticationResult, error) {
	h.metrics.IncFallback(remote.Outcome)

	if _, err := h.credentials.GetCurrent(ctx, account.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.logger.Info("directory unavailable and no cached credential",
				zap.String("user_id", account.ID),
				zap.String("directory_outcome", string(remote.Outcome)),
			)
			return domain.NewResult(domain.OutcomeDomainError, domain.ReasonNoCachedCredential, account), nil
		}
		return domain.AuthenticationResult{}, fmt.Errorf("load cached credential: %w", err)
	}

	h.logger.Info("authenticating against cached credential",
		zap.String("user_id", account.ID),
		zap.String("directory_outcome", string(remote.Outcome)),
	)

	result, err := h.local.Authenticate(ctx, creds, account)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if result.Outcome == domain.OutcomeChangePasswordRequired {
		return domain.Success(result.Account), nil
	}
	return result, nil
}

// syncShadow stores password as the cached credential unless it already matches.
// Directory-originated credentials are always marked as never changed by the user.
func (h *HybridCoordinator) syncShadow(ctx context.Context, account *domain.UserAccount, password string) error {
	current, err := h.credentials.GetCurrent(ctx, account.ID)
	switch {
	case err == nil:
		hasher, herr := h.hashers.ForAlgorithm(current.Algorithm)
		if herr == nil {
			same, verr := hasher.Verify(password, current.Hash, current.Salt)
			if verr == nil && same {
				return nil
			}
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return fmt.Errorf("load cached credential: %w", err)
	}

	hasInitial, err := h.credentials.HasInitialCredential(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("check initial credential: %w", err)
	}

	hasher := h.hashers.Current()
	hash, salt, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash cached credential: %w", err)
	}

	shadow := domain.Credential{
		ID:         uuid.NewString(),
		UserID:     account.ID,
		Hash:       hash,
		Salt:       salt,
		Algorithm:  hasher.Algorithm(),
		CreatedAt:  h.clock(),
		IsInitial:  !hasInitial,
		UserChange: domain.NeverChanged(),
	}
	if err := h.credentials.InsertOrUpdate(ctx, account.ID, shadow, h.retention); err != nil {
		return fmt.Errorf("store cached credential: %w", err)
	}
	h.logger.Debug("cached credential refreshed", zap.String("user_id", account.ID))
	return nil
}

// VerifyStatus asks the directory and falls back to the local flags when it cannot answer.
func (h *HybridCoordinator) VerifyStatus(ctx context.Context, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	result, err := h.remote.VerifyStatus(ctx, account)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if result.Outcome.AllowsLocalFallback() && h.mode.AllowsCaching(*account) {
		h.metrics.IncFallback(result.Outcome)
		return h.local.VerifyStatus(ctx, account)
	}
	return result, nil
}

// ListPasswordRules returns the directory rules, or the local rules in disconnected mode.
func (h *HybridCoordinator) ListPasswordRules(ctx context.Context) ([]string, error) {
	rules, err := h.remote.ListPasswordRules(ctx)
	if err != nil && h.mode.IsEnabled() {
		h.logger.Warn("directory rules unavailable, using local policy", zap.Error(err))
		return h.local.ListPasswordRules(ctx)
	}
	return rules, err
}

// GetMaxPasswordAge returns the directory maximum age, or the local one in disconnected mode.
func (h *HybridCoordinator) GetMaxPasswordAge(ctx context.Context) (domain.MaxPasswordAge, error) {
	age, err := h.remote.GetMaxPasswordAge(ctx)
	if err != nil && h.mode.IsEnabled() {
		h.logger.Warn("directory max age unavailable, using local policy", zap.Error(err))
		return h.local.GetMaxPasswordAge(ctx)
	}
	return age, err
}

// ChangePassword changes the directory password and refreshes the cached credential.
// Directory passwords are never changed against the cache.
func (h *HybridCoordinator) ChangePassword(ctx context.Context, account *domain.UserAccount, oldPassword, newPassword string) (domain.AuthenticationResult, error) {
	result, err := h.remote.ChangePassword(ctx, account, oldPassword, newPassword)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if result.Outcome == domain.OutcomeSuccessful && h.mode.AllowsCaching(*account) {
		if err := h.syncShadow(ctx, account, newPassword); err != nil {
			h.logger.Warn("refresh cached credential after change failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}
	return result, nil
}

var _ Authenticator = (*HybridCoordinator)(nil)
