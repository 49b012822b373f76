// Package pg implements the repository contracts on Postgres with PostGIS.
package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewUnitOfWork binds every repository to db.
func NewUnitOfWork(db DBTX, logger *zap.Logger) *repository.UnitOfWork {
	return &repository.UnitOfWork{
		Establishments:    NewEstablishmentAggregateRepository(db, logger),
		SearchesMade:      NewSearchMadeRepository(db),
		Deleted:           NewDeletedEstablishmentRepository(db),
		Groups:            NewGroupRepository(db),
		UpdateSuggestions: NewUpdateSuggestionRepository(db),
		Romes:             NewRomeRepository(db),
	}
}

// Performer runs each unit of work in its own transaction.
type Performer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPerformer returns a Performer running units of work on pool.
func NewPerformer(pool *pgxpool.Pool, logger *zap.Logger) *Performer {
	return &Performer{pool: pool, logger: logger}
}

// Perform runs fn in one transaction, committed when fn returns nil.
func (p *Performer) Perform(ctx context.Context, fn func(ctx context.Context, uow *repository.UnitOfWork) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewUnitOfWork(tx, p.logger))
	})
}
