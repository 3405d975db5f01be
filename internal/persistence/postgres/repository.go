// Package postgres provides pgx-backed persistence for the coaching
// engine. The core invariants live in the schema: the natural-key unique
// constraint on executions, the composite membership key, and the dense
// period sequence; the stores lean on those constraints instead of
// scan-then-decide application logic.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/coaching/internal/domain"
)

// store carries the shared pool and transaction helpers for the
// entity-specific stores.
type store struct {
	pool *pgxpool.Pool
}

// Stores bundles the entity stores over one pool.
type Stores struct {
	Templates   *TemplateStore
	Periods     *PeriodStore
	Enrollments *EnrollmentStore
	Executions  *ExecutionStore
}

// NewStores constructs all stores over a shared pool.
func NewStores(pool *pgxpool.Pool) Stores {
	base := store{pool: pool}
	return Stores{
		Templates:   &TemplateStore{base},
		Periods:     &PeriodStore{base},
		Enrollments: &EnrollmentStore{base},
		Executions:  &ExecutionStore{base},
	}
}

// beginTenantTx opens a transaction scoped to the tenant via RLS.
func (s store) beginTenantTx(ctx context.Context, tenantID string) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapPgError(err)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, mapPgError(err)
	}
	return tx, nil
}

// mapPgError translates transient Postgres failures into the retryable
// domain.ErrStorageConflict. Serialization failures, deadlocks, and lock
// timeouts are always retryable; unique violations are translated by the
// call sites that know which constraint tripped.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", domain.ErrStorageConflict, pgErr.Code)
		}
	}
	return err
}

// isUniqueViolation reports whether err is a unique violation on the named
// constraint. An empty name matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
