package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Accounts    *AccountRepository
	Credentials *CredentialRepository
	Events      *EventRepository
	Domains     *DomainRepository
	Guard       *AdvisoryGuard
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Accounts:    NewAccountRepository(pool),
		Credentials: NewCredentialRepository(pool),
		Events:      NewEventRepository(pool),
		Domains:     NewDomainRepository(pool),
		Guard:       NewAdvisoryGuard(pool),
	}
}
