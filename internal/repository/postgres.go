// Package repository implements the store contracts on PostgreSQL. The
// in-memory arena is the reference implementation; these repos must match
// its snapshot and append semantics.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/store"
)

// Postgres bundles the per-entity repos behind the store contract.
type Postgres struct {
	*TaskRepo
	*FundingRepo
	*EventRepo
	*ReputationRepo
	*DisputeRepo
}

var _ store.Store = (*Postgres)(nil)

// NewPostgres returns a store backed by the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		TaskRepo:       NewTaskRepo(pool),
		FundingRepo:    NewFundingRepo(pool),
		EventRepo:      NewEventRepo(pool),
		ReputationRepo: NewReputationRepo(pool),
		DisputeRepo:    NewDisputeRepo(pool),
	}
}

// notFound maps pgx's no-rows to the shared taxonomy.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(format, args...)
	}
	return errs.Internal("query failed", err)
}
