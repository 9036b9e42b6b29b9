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

var credentialColumns = []string{
	"id",
	"user_id",
	"hash",
	"salt",
	"algorithm",
	"created_at",
	"is_initial",
	"user_changed_at",
}

// CredentialRepository implements port.CredentialStore. The current credential carries is_current = true;
// every other row for the user is history.
type CredentialRepository struct {
	db      pgBeginner
	builder squirrel.StatementBuilderType
}

// NewCredentialRepository constructs a repository backed by a pool or any other transaction starter.
func NewCredentialRepository(db pgBeginner) *CredentialRepository {
	return &CredentialRepository{
		db:      db,
		builder: newBuilder(),
	}
}

// GetCurrent returns the active credential of the user.
func (r *CredentialRepository) GetCurrent(ctx context.Context, userID string) (*domain.Credential, error) {
	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From(table("credentials")).
		Where(squirrel.Eq{"user_id": userID, "is_current": true}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select current credential sql: %w", err)
	}

	cred, err := scanCredential(beginnerFor(ctx, r.db).QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan current credential: %w", err)
	}
	return &cred, nil
}

// GetHistory returns up to count previous credentials, newest first.
func (r *CredentialRepository) GetHistory(ctx context.Context, userID string, count int) ([]domain.Credential, error) {
	if count <= 0 {
		return nil, nil
	}

	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From(table("credentials")).
		Where(squirrel.Eq{"user_id": userID, "is_current": false}).
		OrderBy("created_at DESC").
		Limit(uint64(count)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential history sql: %w", err)
	}

	rows, err := beginnerFor(ctx, r.db).Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query credential history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.Credential, 0, count)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential history: %w", err)
		}
		history = append(history, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential history: %w", err)
	}
	return history, nil
}

// HasInitialCredential reports whether any stored credential of the user is marked initial.
func (r *CredentialRepository) HasInitialCredential(ctx context.Context, userID string) (bool, error) {
	stmt, args, err := r.builder.
		Select("1").
		From(table("credentials")).
		Where(squirrel.Eq{"user_id": userID, "is_initial": true}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build initial credential sql: %w", err)
	}

	var exists bool
	if err := beginnerFor(ctx, r.db).QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("scan initial credential: %w", err)
	}
	return exists, nil
}

// InsertOrUpdate stores cred as current. When cred.ID already is the current row it is updated in place;
// otherwise the previous current row is demoted and history beyond retention is removed.
func (r *CredentialRepository) InsertOrUpdate(ctx context.Context, userID string, cred domain.Credential, retention int) error {
	if cred.ID == "" {
		return fmt.Errorf("credential id is required")
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	changedAt := userChangedAt(cred.UserChange)

	return withTx(ctx, beginnerFor(ctx, r.db), func(tx pgx.Tx) error {
		updateSQL, updateArgs, err := r.builder.
			Update(table("credentials")).
			Set("hash", cred.Hash).
			Set("salt", cred.Salt).
			Set("algorithm", string(cred.Algorithm)).
			Set("is_initial", cred.IsInitial).
			Set("user_changed_at", changedAt).
			Where(squirrel.Eq{"id": cred.ID, "user_id": userID, "is_current": true}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update credential sql: %w", err)
		}

		tag, err := tx.Exec(ctx, updateSQL, updateArgs...)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		demoteSQL, demoteArgs, err := r.builder.
			Update(table("credentials")).
			Set("is_current", false).
			Where(squirrel.Eq{"user_id": userID, "is_current": true}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build demote credential sql: %w", err)
		}
		if _, err := tx.Exec(ctx, demoteSQL, demoteArgs...); err != nil {
			return fmt.Errorf("demote credential: %w", err)
		}

		insertSQL, insertArgs, err := r.builder.
			Insert(table("credentials")).
			Columns(append(append([]string{}, credentialColumns...), "is_current")...).
			Values(
				cred.ID,
				userID,
				cred.Hash,
				cred.Salt,
				string(cred.Algorithm),
				cred.CreatedAt,
				cred.IsInitial,
				changedAt,
				true,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert credential sql: %w", err)
		}
		if _, err := tx.Exec(ctx, insertSQL, insertArgs...); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}

		if retention < 0 {
			retention = 0
		}
		trimSQL, trimArgs, err := r.builder.
			Delete(table("credentials")).
			Where(squirrel.Eq{"user_id": userID, "is_current": false}).
			Where(squirrel.Expr(
				"id NOT IN (SELECT id FROM "+table("credentials")+" WHERE user_id = ? AND is_current = false ORDER BY created_at DESC LIMIT ?)",
				userID, retention,
			)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build trim credential history sql: %w", err)
		}
		if _, err := tx.Exec(ctx, trimSQL, trimArgs...); err != nil {
			return fmt.Errorf("trim credential history: %w", err)
		}
		return nil
	})
}

func userChangedAt(change domain.PasswordChange) *time.Time {
	at, ok := change.Time()
	if !ok {
		return nil
	}
	return &at
}

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var (
		cred      domain.Credential
		algorithm string
		changedAt *time.Time
	)
	if err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Hash,
		&cred.Salt,
		&algorithm,
		&cred.CreatedAt,
		&cred.IsInitial,
		&changedAt,
	); err != nil {
		return domain.Credential{}, err
	}
	cred.Algorithm = domain.HashAlgorithm(algorithm)
	if changedAt != nil {
		cred.UserChange = domain.ChangedAt(*changedAt)
	}
	return cred, nil
}

var _ port.CredentialStore = (*CredentialRepository)(nil)
