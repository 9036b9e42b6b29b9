package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arklim/dispense-auth/internal/core/port"
)

// AdvisoryGuard serializes per-account work across service instances with a transaction-scoped
// advisory lock. fn receives a context bound to the guard's transaction, so repositories of this
// package called with it share the connection and commit or roll back together.
type AdvisoryGuard struct {
	db pgBeginner
}

// NewAdvisoryGuard constructs a guard on the provided pool.
func NewAdvisoryGuard(db pgBeginner) *AdvisoryGuard {
	return &AdvisoryGuard{db: db}
}

// Guard runs fn while holding the advisory lock keyed by userID.
func (g *AdvisoryGuard) Guard(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return withTx(ctx, g.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "account:"+userID); err != nil {
			return fmt.Errorf("acquire account lock: %w", err)
		}
		return fn(contextWithTx(ctx, tx))
	})
}

var _ port.AttemptGuard = (*AdvisoryGuard)(nil)
