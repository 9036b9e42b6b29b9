package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/repository"
)

// FactoryDeps groups the collaborators of AuthenticatorFactory.
type FactoryDeps struct {
	Domains     port.DomainRepository
	Clients     port.DirectoryClientFactory
	Credentials port.CredentialStore
	Events      port.EventLog
	Hashers     port.HasherRegistry
	Policies    *PolicyCache
	Metrics     port.AuthMetrics
	Logger      *zap.Logger
	Clock       Clock
}

// AuthenticatorFactory selects the backend for an account once, at construction of the authenticator.
type AuthenticatorFactory struct {
	local       *LocalAuthenticator
	mode        domain.DisconnectedPolicy
	domains     port.DomainRepository
	clients     port.DirectoryClientFactory
	credentials port.CredentialStore
	events      port.EventLog
	hashers     port.HasherRegistry
	policies    *PolicyCache
	metrics     port.AuthMetrics
	logger      *zap.Logger
	clock       Clock
}

// NewAuthenticatorFactory constructs an AuthenticatorFactory.
func NewAuthenticatorFactory(local *LocalAuthenticator, mode domain.DisconnectedPolicy, deps FactoryDeps) *AuthenticatorFactory {
	policies := deps.Policies
	if policies == nil {
		policies = NewPolicyCache(DefaultPolicyCacheTTL, deps.Metrics, deps.Clock)
	}
	return &AuthenticatorFactory{
		local:       local,
		mode:        mode,
		domains:     deps.Domains,
		clients:     deps.Clients,
		credentials: deps.Credentials,
		events:      deps.Events,
		hashers:     deps.Hashers,
		policies:    policies,
		metrics:     metricsOrNoop(deps.Metrics),
		logger:      loggerOrNop(deps.Logger),
		clock:       clockOrDefault(deps.Clock),
	}
}

// Policies exposes the shared policy cache.
func (f *AuthenticatorFactory) Policies() *PolicyCache {
	return f.policies
}

// For returns the authenticator for account. Locally managed accounts get the local backend;
// directory accounts get their directory variant wrapped in a HybridCoordinator.
func (f *AuthenticatorFactory) For(ctx context.Context, account *domain.UserAccount) (Authenticator, error) {
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if !account.IsDirectoryManaged() {
		return f.local, nil
	}

	dir, client, err := f.openDomain(ctx, *account.DomainID)
	if err != nil {
		return nil, err
	}

	deps := RemoteDeps{
		Client:   client,
		Policies: f.policies,
		Events:   f.events,
		Metrics:  f.metrics,
		Logger:   f.logger,
		Clock:    f.clock,
	}

	var remote Authenticator
	if dir.Kind == domain.DirectoryKindFederated {
		remote = NewFederatedAuthenticator(dir, deps)
	} else {
		remote = NewDirectoryAuthenticator(dir, deps)
	}

	return NewHybridCoordinator(remote, f.local, f.mode, HybridDeps{
		Credentials: f.credentials,
		Hashers:     f.hashers,
		Metrics:     f.metrics,
		Logger:      f.logger,
		Clock:       f.clock,
	}), nil
}

// openDomain resolves the domain and its client. Missing, inactive or unopenable domains yield an
// unavailable client so callers see DomainError and the fallback path still applies.
func (f *AuthenticatorFactory) openDomain(ctx context.Context, domainID string) (domain.DirectoryDomain, port.DirectoryClient, error) {
	dir, err := f.domains.GetByID(ctx, domainID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			f.logger.Warn("directory domain not found", zap.String("domain_id", domainID))
			return domain.DirectoryDomain{ID: domainID, Kind: domain.DirectoryKindLDAP}, unavailableClient{cause: fmt.Errorf("domain %s not found", domainID)}, nil
		}
		return domain.DirectoryDomain{}, nil, fmt.Errorf("load directory domain: %w", err)
	}

	if !dir.IsActive {
		f.logger.Warn("directory domain inactive", zap.String("domain", dir.FQDN))
		return *dir, unavailableClient{cause: fmt.Errorf("domain %s is inactive", dir.FQDN)}, nil
	}

	client, err := f.clients.ClientFor(ctx, *dir)
	if err != nil {
		f.logger.Error("open directory client failed", zap.String("domain", dir.FQDN), zap.Error(err))
		return *dir, unavailableClient{cause: err}, nil
	}
	return *dir, client, nil
}
