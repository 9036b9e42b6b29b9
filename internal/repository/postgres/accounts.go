package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/repository"
)

var accountColumns = []string{
	"id",
	"username",
	"first_name",
	"last_name",
	"is_active",
	"is_locked",
	"expires_at",
	"domain_id",
	"is_support_user",
	"is_temporary",
	"scan_code",
	"created_at",
	"locked_at",
}

// AccountRepository implements port.AccountRepository and port.AccountAdmin using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: newBuilder(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder, now: r.now}
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByUsername retrieves an account by case-insensitive username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	return r.getOne(ctx, squirrel.Expr("lower(username) = lower(?)", username))
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.UserAccount, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(table("user_accounts")).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var account domain.UserAccount
	if err := executorFor(ctx, r.exec).QueryRow(ctx, stmt, args...).Scan(
		&account.ID,
		&account.Username,
		&account.FirstName,
		&account.LastName,
		&account.IsActive,
		&account.IsLocked,
		&account.ExpiresAt,
		&account.DomainID,
		&account.IsSupportUser,
		&account.IsTemporary,
		&account.ScanCode,
		&account.CreatedAt,
		&account.LockedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

// LockAccount sets the lock flag only when it is clear; the affected row count reports the transition.
func (r *AccountRepository) LockAccount(ctx context.Context, userID string) (bool, error) {
	stmt, args, err := r.builder.
		Update(table("user_accounts")).
		Set("is_locked", true).
		Set("locked_at", r.now()).
		Where(squirrel.Eq{"id": userID, "is_locked": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build lock account sql: %w", err)
	}

	tag, err := executorFor(ctx, r.exec).Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("lock account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnlockAccount clears the lock flag only when it is set.
func (r *AccountRepository) UnlockAccount(ctx context.Context, userID string) (bool, error) {
	stmt, args, err := r.builder.
		Update(table("user_accounts")).
		Set("is_locked", false).
		Set("locked_at", nil).
		Where(squirrel.Eq{"id": userID, "is_locked": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build unlock account sql: %w", err)
	}

	tag, err := executorFor(ctx, r.exec).Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("unlock account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var (
	_ port.AccountRepository = (*AccountRepository)(nil)
	_ port.AccountAdmin      = (*AccountRepository)(nil)
)
