package directory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/infra/identity"
)

// FactoryConfig holds the settings shared by every directory client.
type FactoryConfig struct {
	Timeout         time.Duration
	InsecureSkipTLS bool
}

type cachedClient struct {
	dir    domain.DirectoryDomain
	client port.DirectoryClient
}

// ClientFactory opens LDAP or OIDC clients for configured domains and reuses them while the domain row is unchanged.
type ClientFactory struct {
	cfg     FactoryConfig
	secrets port.SecretDecrypter
	dial    Dialer
	http    *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]cachedClient
}

// NewClientFactory builds a factory. secrets may be nil when stored passwords are plaintext.
func NewClientFactory(cfg FactoryConfig, secrets port.SecretDecrypter, logger *zap.Logger) *ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientFactory{
		cfg:     cfg,
		secrets: secrets,
		dial:    DialLDAP,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		clients: make(map[string]cachedClient),
	}
}

// ClientFor returns the client for dir.
func (f *ClientFactory) ClientFor(_ context.Context, dir domain.DirectoryDomain) (port.DirectoryClient, error) {
	key := dir.ID
	if key == "" {
		key = dir.FQDN
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.clients[key]; ok && cached.dir == dir {
		return cached.client, nil
	}

	secret, err := f.reveal(dir.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret for %s: %w", dir.FQDN, err)
	}

	var client port.DirectoryClient
	switch dir.Kind {
	case domain.DirectoryKindFederated:
		client = identity.NewOIDCClient(identity.OIDCConfig{
			Domain:       dir,
			ClientSecret: secret,
			Timeout:      f.cfg.Timeout,
			HTTPClient:   f.http,
		}, f.logger)
	case domain.DirectoryKindLDAP, "":
		ldapClient, err := NewLDAPClient(LDAPConfig{
			Domain:          dir,
			SystemPassword:  secret,
			Timeout:         f.cfg.Timeout,
			InsecureSkipTLS: f.cfg.InsecureSkipTLS,
		}, f.dial, f.logger)
		if err != nil {
			return nil, err
		}
		client = ldapClient
	default:
		return nil, fmt.Errorf("unsupported directory kind %q", dir.Kind)
	}

	f.clients[key] = cachedClient{dir: dir, client: client}
	f.logger.Debug("directory client opened", zap.String("domain", dir.FQDN), zap.String("kind", string(dir.Kind)))
	return client, nil
}

func (f *ClientFactory) reveal(ciphertext string) (string, error) {
	if ciphertext == "" || f.secrets == nil {
		return ciphertext, nil
	}
	return f.secrets.Decrypt(ciphertext)
}

var _ port.DirectoryClientFactory = (*ClientFactory)(nil)
