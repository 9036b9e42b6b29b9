package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// RemoteDeps groups the collaborators of the directory and federated authenticators.
type RemoteDeps struct {
	Client   port.DirectoryClient
	Policies *PolicyCache
	Events   port.EventLog
	Metrics  port.AuthMetrics
	Logger   *zap.Logger
	Clock    Clock
}

// remoteAuthenticator is the shared body of the directory-backed variants.
// translate is the only behavior that differs between them.
type remoteAuthenticator struct {
	kind      domain.BackendKind
	dir       domain.DirectoryDomain
	client    port.DirectoryClient
	policies  *PolicyCache
	events    port.EventLog
	metrics   port.AuthMetrics
	logger    *zap.Logger
	clock     Clock
	translate func(domain.DirectoryStatus) domain.Outcome
}

func newRemoteAuthenticator(kind domain.BackendKind, dir domain.DirectoryDomain, deps RemoteDeps, translate func(domain.DirectoryStatus) domain.Outcome) remoteAuthenticator {
	policies := deps.Policies
	if policies == nil {
		policies = NewPolicyCache(DefaultPolicyCacheTTL, deps.Metrics, deps.Clock)
	}
	return remoteAuthenticator{
		kind:      kind,
		dir:       dir,
		client:    deps.Client,
		policies:  policies,
		events:    deps.Events,
		metrics:   metricsOrNoop(deps.Metrics),
		logger:    loggerOrNop(deps.Logger).With(zap.String("domain", dir.FQDN), zap.String("backend", string(kind))),
		clock:     clockOrDefault(deps.Clock),
		translate: translate,
	}
}

// Kind reports the backend variant.
func (r *remoteAuthenticator) Kind() domain.BackendKind {
	return r.kind
}

// Domain returns the directory this authenticator is bound to.
func (r *remoteAuthenticator) Domain() domain.DirectoryDomain {
	return r.dir
}

// Authenticate binds to the directory and records a verdict event when the directory judged the password.
func (r *remoteAuthenticator) Authenticate(ctx context.Context, creds domain.Credentials, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	if account == nil {
		return domain.AuthenticationResult{}, ErrAccountNotFound
	}

	started := time.Now()
	status, err := r.client.Authenticate(ctx, account.Username, creds.Password)
	elapsed := time.Since(started)
	r.metrics.ObserveDirectoryLatency(r.kind, elapsed)
	if err != nil {
		r.logger.Error("directory authenticate failed", zap.String("user_id", account.ID), zap.Duration("elapsed", elapsed), zap.Error(err))
		status = domain.DirectoryError
	} else {
		r.logger.Debug("directory authenticate", zap.String("user_id", account.ID), zap.String("status", string(status)), zap.Duration("elapsed", elapsed))
	}

	outcome := r.translate(status)
	result := domain.NewResult(outcome, reasonFor(outcome), account)

	if matched, judged := verdict(status); judged {
		if err := r.events.Append(ctx, newAttemptEvent(account.ID, creds.DeviceID, r.clock(), matched, result)); err != nil {
			return domain.AuthenticationResult{}, fmt.Errorf("append authentication event: %w", err)
		}
	}
	return result, nil
}

// VerifyStatus asks the directory about the account without a password.
func (r *remoteAuthenticator) VerifyStatus(ctx context.Context, account *domain.UserAccount) (domain.AuthenticationResult, error) {
	if account == nil {
		return domain.AuthenticationResult{}, ErrAccountNotFound
	}
	status, err := r.client.VerifyUser(ctx, account.Username)
	if err != nil {
		r.logger.Error("directory verify failed", zap.String("user_id", account.ID), zap.Error(err))
		status = domain.DirectoryError
	}
	outcome := r.translate(status)
	return domain.NewResult(outcome, reasonFor(outcome), account), nil
}

func (r *remoteAuthenticator) policy(ctx context.Context) (domain.PasswordPolicy, error) {
	policy, err := r.policies.Get(ctx, r.dir.FQDN, r.client.GetPasswordPolicy)
	if err != nil {
		r.logger.Warn("directory policy fetch failed", zap.Error(err))
		return domain.PasswordPolicy{}, fmt.Errorf("%w: %w", ErrPolicyUnavailable, err)
	}
	return policy, nil
}

// ListPasswordRules renders the cached directory policy.
func (r *remoteAuthenticator) ListPasswordRules(ctx context.Context) ([]string, error) {
	policy, err := r.policy(ctx)
	if err != nil {
		return nil, err
	}
	return policy.Rules(), nil
}

// GetMaxPasswordAge returns the cached directory maximum password age.
func (r *remoteAuthenticator) GetMaxPasswordAge(ctx context.Context) (domain.MaxPasswordAge, error) {
	policy, err := r.policy(ctx)
	if err != nil {
		return domain.MaxPasswordAge{}, err
	}
	return policy.MaxAge, nil
}

// ChangePassword delegates the change to the directory.
func (r *remoteAuthenticator) ChangePassword(ctx context.Context, account *domain.UserAccount, oldPassword, newPassword string) (domain.AuthenticationResult, error) {
	if account == nil {
		return domain.AuthenticationResult{}, ErrAccountNotFound
	}
	status, err := r.client.ChangePassword(ctx, account.Username, oldPassword, newPassword)
	if err != nil {
		r.logger.Error("directory password change failed", zap.String("user_id", account.ID), zap.Error(err))
		status = domain.DirectoryError
	}
	outcome := r.translate(status)
	return domain.NewResult(outcome, reasonFor(outcome), account), nil
}

// verdict reports whether the status is the directory's judgement of the password and whether it matched.
func verdict(status domain.DirectoryStatus) (matched bool, judged bool) {
	switch status {
	case domain.DirectorySuccess, domain.DirectoryExpired, domain.DirectoryMustChange:
		return true, true
	case domain.DirectoryFailed, domain.DirectoryLastAttemptWarning:
		return false, true
	default:
		return false, false
	}
}

func reasonFor(outcome domain.Outcome) domain.FailureReason {
	switch outcome {
	case domain.OutcomeSuccessful:
		return domain.ReasonNone
	case domain.OutcomeIncorrectPassword, domain.OutcomeWarnAccountLockout:
		return domain.ReasonBadPassword
	case domain.OutcomeAccountInactive:
		return domain.ReasonAccountInactive
	case domain.OutcomeAccountExpired:
		return domain.ReasonAccountExpired
	case domain.OutcomeAccountLocked, domain.OutcomeAccountAlreadyLocked, domain.OutcomeAccountLocking:
		return domain.ReasonAccountLocked
	case domain.OutcomePasswordExpired, domain.OutcomeChangePasswordRequired:
		return domain.ReasonPasswordExpired
	case domain.OutcomeNotFound:
		return domain.ReasonUserNotFound
	case domain.OutcomeMultipleUserID:
		return domain.ReasonAmbiguousUser
	case domain.OutcomeCertificateRevokedOrInvalid:
		return domain.ReasonCertificate
	case domain.OutcomeIdentityServerURLNotConfigured, domain.OutcomeIdentityServerNotReachable, domain.OutcomeRequestTimedOut:
		return domain.ReasonIdentityServer
	default:
		return domain.ReasonDirectoryError
	}
}

// translateDirectoryStatus maps enterprise-directory statuses; transport problems collapse to DomainError.
func translateDirectoryStatus(status domain.DirectoryStatus) domain.Outcome {
	switch status {
	case domain.DirectorySuccess:
		return domain.OutcomeSuccessful
	case domain.DirectoryFailed:
		return domain.OutcomeIncorrectPassword
	case domain.DirectoryExpired:
		return domain.OutcomePasswordExpired
	case domain.DirectoryMustChange:
		return domain.OutcomeChangePasswordRequired
	case domain.DirectoryDisabled:
		return domain.OutcomeAccountInactive
	case domain.DirectoryLocked:
		return domain.OutcomeAccountLocked
	case domain.DirectoryAccountExpired:
		return domain.OutcomeAccountExpired
	case domain.DirectoryLastAttemptWarning:
		return domain.OutcomeWarnAccountLockout
	case domain.DirectoryNotFound:
		return domain.OutcomeNotFound
	case domain.DirectoryMultipleMatches:
		return domain.OutcomeMultipleUserID
	default:
		return domain.OutcomeDomainError
	}
}

// translateFederatedStatus extends the directory mapping with identity-server specific codes.
func translateFederatedStatus(status domain.DirectoryStatus) domain.Outcome {
	switch status {
	case domain.DirectoryURLNotConfigured:
		return domain.OutcomeIdentityServerURLNotConfigured
	case domain.DirectoryUnreachable:
		return domain.OutcomeIdentityServerNotReachable
	case domain.DirectoryTimedOut:
		return domain.OutcomeRequestTimedOut
	case domain.DirectoryCertificateInvalid:
		return domain.OutcomeCertificateRevokedOrInvalid
	default:
		return translateDirectoryStatus(status)
	}
}

// DirectoryAuthenticator authenticates against an enterprise (LDAP) directory.
type DirectoryAuthenticator struct {
	remoteAuthenticator
}

// NewDirectoryAuthenticator constructs a DirectoryAuthenticator bound to dir.
func NewDirectoryAuthenticator(dir domain.DirectoryDomain, deps RemoteDeps) *DirectoryAuthenticator {
	return &DirectoryAuthenticator{newRemoteAuthenticator(domain.BackendDirectory, dir, deps, translateDirectoryStatus)}
}

// FederatedAuthenticator authenticates against a federated identity server.
type FederatedAuthenticator struct {
	remoteAuthenticator
}

// NewFederatedAuthenticator constructs a FederatedAuthenticator bound to dir.
func NewFederatedAuthenticator(dir domain.DirectoryDomain, deps RemoteDeps) *FederatedAuthenticator {
	return &FederatedAuthenticator{newRemoteAuthenticator(domain.BackendFederated, dir, deps, translateFederatedStatus)}
}

// unavailableClient answers every call with a directory error. It stands in for
// domains that are missing, inactive or cannot be opened, so the hybrid path can still fall back.
type unavailableClient struct {
	cause error
}

func (c unavailableClient) Authenticate(context.Context, string, string) (domain.DirectoryStatus, error) {
	return domain.DirectoryError, nil
}

func (c unavailableClient) VerifyUser(context.Context, string) (domain.DirectoryStatus, error) {
	return domain.DirectoryError, nil
}

func (c unavailableClient) GetPasswordPolicy(context.Context) (domain.PasswordPolicy, error) {
	return domain.PasswordPolicy{}, c.cause
}

func (c unavailableClient) ChangePassword(context.Context, string, string, string) (domain.DirectoryStatus, error) {
	return domain.DirectoryError, nil
}

var (
	_ Authenticator = (*DirectoryAuthenticator)(nil)
	_ Authenticator = (*FederatedAuthenticator)(nil)

	_ port.DirectoryClient = unavailableClient{}
)
