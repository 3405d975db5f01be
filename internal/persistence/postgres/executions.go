package postgres

import (
	"context"
	"encoding/json"
	"time"

	"example.com/coaching/internal/domain"
)

// ExecutionStore implements domain.ExecutionRepository.
type ExecutionStore struct {
	store
}

// BulkUpsert inserts the target execution set in one statement. The
// uniqueness of (client_id, template_id, period_id) is enforced by the
// storage constraint, so concurrent materialization passes race
// harmlessly: the loser's rows become no-ops and existing completion data
// is never overwritten. Returns the number of rows actually inserted.
func (s *ExecutionStore) BulkUpsert(ctx context.Context, tenantID string, executions []domain.Execution) (int, error) {
	if len(executions) == 0 {
		return 0, nil
	}

	ids := make([]string, len(executions))
	clientIDs := make([]string, len(executions))
	templateIDs := make([]string, len(executions))
	periodIDs := make([]string, len(executions))
	for i, execution := range executions {
		ids[i] = execution.ID
		clientIDs[i] = execution.ClientID
		templateIDs[i] = execution.TemplateID
		periodIDs[i] = execution.PeriodID
	}

	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO executions (execution_id, tenant_id, client_id, template_id, period_id, created_at, updated_at)
        SELECT unnest($2::uuid[]), $1, unnest($3::uuid[]), unnest($4::uuid[]), unnest($5::uuid[]), $6, $6
        ON CONFLICT (client_id, template_id, period_id) DO NOTHING`

	tag, err := tx.Exec(ctx, stmt, tenantID, ids, clientIDs, templateIDs, periodIDs, time.Now().UTC())
	if err != nil {
		return 0, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgError(err)
	}
	return int(tag.RowsAffected()), nil
}

// ListForClient returns the execution rows a client tracks for one
// activity: rows whose period belongs to the activity and whose template
// is currently active for it. Rows under deactivated templates are kept in
// storage but drop out of this view.
func (s *ExecutionStore) ListForClient(ctx context.Context, tenantID, activityID, clientID string) ([]domain.Execution, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT e.execution_id, e.tenant_id, e.client_id, e.template_id, e.period_id, e.completed, e.performance, e.completed_at, e.created_at, e.updated_at
        FROM executions e
        JOIN periods p ON p.period_id = e.period_id
        JOIN template_activity_membership m ON m.template_id = e.template_id AND m.activity_id = p.activity_id
        WHERE e.client_id=$2 AND p.activity_id=$1 AND m.active
        ORDER BY p.sequence, e.template_id`

	rows, err := tx.Query(ctx, query, activityID, clientID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	executions := make([]domain.Execution, 0)
	for rows.Next() {
		var execution domain.Execution
		if err := rows.Scan(
			&execution.ID,
			&execution.TenantID,
			&execution.ClientID,
			&execution.TemplateID,
			&execution.PeriodID,
			&execution.Completed,
			&execution.Performance,
			&execution.CompletedAt,
			&execution.CreatedAt,
			&execution.UpdatedAt,
		); err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return executions, tx.Commit(ctx)
}

// RecordCompletion updates the client-owned completion fields.
func (s *ExecutionStore) RecordCompletion(ctx context.Context, tenantID, executionID string, completed bool, performance json.RawMessage, now time.Time) error {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE executions
        SET completed=$2,
            performance=COALESCE($3, performance),
            completed_at=CASE WHEN $2 THEN $4 ELSE NULL END,
            updated_at=$4
        WHERE execution_id=$1`

	tag, err := tx.Exec(ctx, stmt, executionID, completed, performance, now)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return tx.Commit(ctx)
}
