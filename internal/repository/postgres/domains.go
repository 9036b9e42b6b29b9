package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/repository"
)

// DomainRepository implements port.DomainRepository using PostgreSQL.
type DomainRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDomainRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDomainRepository(exec pgExecutor) *DomainRepository {
	return &DomainRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// GetByID retrieves a directory domain definition.
func (r *DomainRepository) GetByID(ctx context.Context, id string) (*domain.DirectoryDomain, error) {
	stmt, args, err := r.builder.
		Select(
			"id",
			"fqdn",
			"kind",
			"system_account",
			"encrypted_password",
			"use_tls",
			"port",
			"identity_server_url",
			"client_id",
			"is_active",
			"is_polling_enabled",
			"is_support_domain",
		).
		From(table("directory_domains")).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select domain sql: %w", err)
	}

	var (
		dir       domain.DirectoryDomain
		kind      string
		serverURL *string
		clientID  *string
	)
	if err := executorFor(ctx, r.exec).QueryRow(ctx, stmt, args...).Scan(
		&dir.ID,
		&dir.FQDN,
		&kind,
		&dir.SystemAccount,
		&dir.EncryptedPassword,
		&dir.UseTLS,
		&dir.Port,
		&serverURL,
		&clientID,
		&dir.IsActive,
		&dir.IsPollingEnabled,
		&dir.IsSupportDomain,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan domain: %w", err)
	}
	dir.Kind = domain.DirectoryKind(kind)
	if serverURL != nil {
		dir.IdentityServerURL = *serverURL
	}
	if clientID != nil {
		dir.ClientID = *clientID
	}
	return &dir, nil
}

var _ port.DomainRepository = (*DomainRepository)(nil)
