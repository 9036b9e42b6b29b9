package port

import (
	"context"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

// AccountRepository reads user accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.UserAccount, error)
	GetByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}

// AccountAdmin mutates the durable lock flag.
type AccountAdmin interface {
	// LockAccount sets the lock flag if it is not already set and reports whether this call changed it.
	LockAccount(ctx context.Context, userID string) (bool, error)
	// UnlockAccount clears the lock flag and reports whether this call changed it.
	UnlockAccount(ctx context.Context, userID string) (bool, error)
}

// DomainRepository reads directory domain definitions.
type DomainRepository interface {
	GetByID(ctx context.Context, id string) (*domain.DirectoryDomain, error)
}
