package port

import (
	"context"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// DirectoryClient talks to one enterprise or federated directory.
// Transport failures are reported as statuses; the error return is reserved for misuse.
type DirectoryClient interface {
	Authenticate(ctx context.Context, username, password string) (domain.DirectoryStatus, error)
	VerifyUser(ctx context.Context, username string) (domain.DirectoryStatus, error)
	GetPasswordPolicy(ctx context.Context) (domain.PasswordPolicy, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (domain.DirectoryStatus, error)
}

// DirectoryClientFactory opens a client for a configured domain.
type DirectoryClientFactory interface {
	ClientFor(ctx context.Context, dir domain.DirectoryDomain) (DirectoryClient, error)
}
