package identity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	appLogger "github.com/arklim/dispense-auth/internal/infra/logger"
)

// PasswordPolicyPath is served by the identity server next to its discovery document.
const PasswordPolicyPath = "/.well-known/password-policy"

// ErrPasswordChangeUnsupported is returned for password changes; the identity server owns its own change flow.
var ErrPasswordChangeUnsupported = errors.New("identity: password change is not supported by federated domains")

// OIDCConfig describes one federated identity server.
type OIDCConfig struct {
	Domain       domain.DirectoryDomain
	ClientSecret string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Scopes       []string
}

// OIDCClient implements port.DirectoryClient with the resource owner password grant.
type OIDCClient struct {
	cfg        OIDCConfig
	issuer     string
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	provider *oidc.Provider
}

// NewOIDCClient builds a client. Discovery runs lazily on first use.
func NewOIDCClient(cfg OIDCConfig, logger *zap.Logger) *OIDCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCClient{
		cfg:        cfg,
		issuer:     strings.TrimRight(strings.TrimSpace(cfg.Domain.IdentityServerURL), "/"),
		httpClient: httpClient,
		logger:     logger.With(zap.String("domain", cfg.Domain.FQDN)),
	}
}

func (c *OIDCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	return oidc.ClientContext(ctx, c.httpClient), cancel
}

func (c *OIDCClient) discover(ctx context.Context) (*oidc.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		return c.provider, nil
	}
	provider, err := oidc.NewProvider(ctx, c.issuer)
	if err != nil {
		return nil, err
	}
	c.provider = provider
	return provider, nil
}

// Authenticate exchanges the credentials for a token and verifies the id_token when one is issued.
func (c *OIDCClient) Authenticate(ctx context.Context, username, password string) (domain.DirectoryStatus, error) {
	if username == "" {
		return "", errors.New("identity: username is required")
	}
	if c.issuer == "" {
		return domain.DirectoryURLNotConfigured, nil
	}
	if password == "" {
		return domain.DirectoryFailed, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	provider, err := c.discover(ctx)
	if err != nil {
		c.logger.Warn("oidc discovery failed", zap.Error(err))
		return transportStatus(ctx, err, domain.DirectoryUnreachable), nil
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	conf := oauth2.Config{
		ClientID:     c.cfg.Domain.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       c.cfg.Scopes,
	}

	token, err := conf.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := grantStatus(retrieveErr)
			c.logger.Debug("oidc token request rejected",
				zap.String("username", appLogger.MaskUsername(username)),
				zap.String("error_code", retrieveErr.ErrorCode),
				zap.String("status", string(status)),
			)
			return status, nil
		}
		c.logger.Warn("oidc token request failed", zap.Error(err))
		return transportStatus(ctx, err, domain.DirectoryError), nil
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		verifier := provider.Verifier(&oidc.Config{ClientID: c.cfg.Domain.ClientID})
		if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
			c.logger.Error("oidc id token rejected", zap.Error(err))
			return domain.DirectoryError, nil
		}
	}
	return domain.DirectorySuccess, nil
}

// VerifyUser reports whether the identity server is usable. The password grant exposes no
// per-user lookup, so account state is only known at authentication time.
func (c *OIDCClient) VerifyUser(ctx context.Context, username string) (domain.DirectoryStatus, error) {
	if username == "" {
		return "", errors.New("identity: username is required")
	}
	if c.issuer == "" {
		return domain.DirectoryURLNotConfigured, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.discover(ctx); err != nil {
		c.logger.Warn("oidc discovery failed", zap.Error(err))
		return transportStatus(ctx, err, domain.DirectoryUnreachable), nil
	}
	return domain.DirectorySuccess, nil
}

type policyDocument struct {
	MinLength         int  `json:"min_length"`
	RequireComplexity bool `json:"require_complexity"`
	MinCharClasses    int  `json:"min_char_classes"`
	MinStrengthScore  int  `json:"min_strength_score"`
	HistoryLength     int  `json:"history_length"`
	MaxAgeDays        int  `json:"max_age_days"`
	LockoutThreshold  int  `json:"lockout_threshold"`
}

// GetPasswordPolicy fetches the policy document. A server without one has no constraints.
func (c *OIDCClient) GetPasswordPolicy(ctx context.Context) (domain.PasswordPolicy, error) {
	if c.issuer == "" {
		return domain.PasswordPolicy{}, errors.New("identity: identity server url not configured")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.issuer+PasswordPolicyPath, nil)
	if err != nil {
		return domain.PasswordPolicy{}, fmt.Errorf("identity: build policy request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PasswordPolicy{}, fmt.Errorf("identity: fetch policy: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.PasswordPolicy{MaxAge: domain.UnboundedAge()}, nil
	case resp.StatusCode != http.StatusOK:
		return domain.PasswordPolicy{}, fmt.Errorf("identity: fetch policy: unexpected status %s", resp.Status)
	}

	var doc policyDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.PasswordPolicy{}, fmt.Errorf("identity: decode policy: %w", err)
	}

	policy := domain.PasswordPolicy{
		MinLength:         doc.MinLength,
		RequireComplexity: doc.RequireComplexity,
		MinCharClasses:    doc.MinCharClasses,
		MinStrengthScore:  doc.MinStrengthScore,
		HistoryLength:     doc.HistoryLength,
		LockoutThreshold:  doc.LockoutThreshold,
		MaxAge:            domain.UnboundedAge(),
	}
	if doc.MaxAgeDays > 0 {
		policy.MaxAge = domain.BoundedAge(time.Duration(doc.MaxAgeDays) * 24 * time.Hour)
	}
	return policy, nil
}

// ChangePassword is not available over the password grant.
func (c *OIDCClient) ChangePassword(context.Context, string, string, string) (domain.DirectoryStatus, error) {
	return domain.DirectoryError, ErrPasswordChangeUnsupported
}

// grantStatus maps token endpoint errors (RFC 6749 section 5.2) and the descriptions common servers attach.
func grantStatus(err *oauth2.RetrieveError) domain.DirectoryStatus {
	description := strings.ToLower(err.ErrorDescription)

	switch err.ErrorCode {
	case "invalid_grant":
		switch {
		case strings.Contains(description, "not fully set up"),
			strings.Contains(description, "must change"),
			strings.Contains(description, "update password"):
			return domain.DirectoryMustChange
		case strings.Contains(description, "account expired"), strings.Contains(description, "account has expired"):
			return domain.DirectoryAccountExpired
		case strings.Contains(description, "expired"):
			return domain.DirectoryExpired
		case strings.Contains(description, "locked"):
			return domain.DirectoryLocked
		case strings.Contains(description, "disabled"):
			return domain.DirectoryDisabled
		default:
			return domain.DirectoryFailed
		}
	case "temporarily_unavailable":
		return domain.DirectoryUnreachable
	case "":
		if err.Response != nil && err.Response.StatusCode >= http.StatusInternalServerError {
			return domain.DirectoryUnreachable
		}
		return domain.DirectoryError
	default:
		return domain.DirectoryError
	}
}

// transportStatus classifies a failed HTTP exchange; fallback covers errors that are not transport related.
func transportStatus(ctx context.Context, err error, fallback domain.DirectoryStatus) domain.DirectoryStatus {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.DirectoryTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.DirectoryTimedOut
	}

	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
		hostnameErr  x509.HostnameError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &authorityErr) || errors.As(err, &invalidErr) || errors.As(err, &hostnameErr) {
		return domain.DirectoryCertificateInvalid
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.DirectoryUnreachable
	}
	return fallback
}

var _ port.DirectoryClient = (*OIDCClient)(nil)
