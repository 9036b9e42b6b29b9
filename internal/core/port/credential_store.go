package port

import (
	"context"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// CredentialStore persists the current credential and a bounded history per user.
type CredentialStore interface {
	GetCurrent(ctx context.Context, userID string) (*domain.Credential, error)
	GetHistory(ctx context.Context, userID string, count int) ([]domain.Credential, error)
	HasInitialCredential(ctx context.Context, userID string) (bool, error)
	// InsertOrUpdate makes cred current. A different previous credential moves to history
	// and history is trimmed to retention entries.
	InsertOrUpdate(ctx context.Context, userID string, cred domain.Credential, retention int) error
}
