package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/coaching/internal/domain"
	"example.com/coaching/internal/events"
)

// PeriodStore implements domain.PeriodRepository.
type PeriodStore struct {
	store
}

// Assign creates or strictly extends the period plan for an activity.
// Existing period rows are locked to serialize concurrent assignments; a
// racing first assignment is caught by the (activity_id, sequence) unique
// constraint and surfaces as a retryable storage conflict.
func (s *PeriodStore) Assign(ctx context.Context, tenantID, activityID string, count int, createdBy string) ([]domain.Period, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var maxSeq int
	rows, err := tx.Query(ctx, `SELECT sequence FROM periods WHERE activity_id=$1 ORDER BY sequence FOR UPDATE`, activityID)
	if err != nil {
		return nil, mapPgError(err)
	}
	for rows.Next() {
		if err := rows.Scan(&maxSeq); err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}

	if count <= maxSeq {
		return nil, fmt.Errorf("%w: have %d periods, requested %d", domain.ErrAlreadyAssigned, maxSeq, count)
	}

	now := time.Now().UTC()
	created := make([]domain.Period, 0, count-maxSeq)
	for seq := maxSeq + 1; seq <= count; seq++ {
		period := domain.Period{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			ActivityID: activityID,
			Sequence:   seq,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		}
		const stmt = `INSERT INTO periods (period_id, tenant_id, activity_id, sequence, created_by, created_at)
            VALUES ($1,$2,$3,$4,$5,$6)`
		if _, err := tx.Exec(ctx, stmt, period.ID, period.TenantID, period.ActivityID, period.Sequence, nullIfEmpty(period.CreatedBy), period.CreatedAt); err != nil {
			if isUniqueViolation(err, "") {
				return nil, fmt.Errorf("%w: concurrent period assignment", domain.ErrStorageConflict)
			}
			return nil, mapPgError(err)
		}
		created = append(created, period)
	}

	// Extensions retroactively widen the target set for enrolled clients;
	// the trigger event commits with the new rows.
	if maxSeq > 0 {
		err := insertOutbox(ctx, tx, tenantID, "activity", activityID, events.TypePeriodsExtended, activityID, events.PeriodsExtended{
			TenantID:     tenantID,
			ActivityID:   activityID,
			FromSequence: maxSeq,
			ToSequence:   count,
			OccurredAt:   now,
		})
		if err != nil {
			return nil, err
		}
	}

	return created, tx.Commit(ctx)
}

// List returns the activity's periods ordered by sequence.
func (s *PeriodStore) List(ctx context.Context, tenantID, activityID string) ([]domain.Period, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT period_id, tenant_id, activity_id, sequence, COALESCE(created_by, ''), created_at
        FROM periods WHERE activity_id=$1 ORDER BY sequence`

	rows, err := tx.Query(ctx, query, activityID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	periods := make([]domain.Period, 0)
	for rows.Next() {
		var period domain.Period
		if err := rows.Scan(&period.ID, &period.TenantID, &period.ActivityID, &period.Sequence, &period.CreatedBy, &period.CreatedAt); err != nil {
			return nil, err
		}
		periods = append(periods, period)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return periods, tx.Commit(ctx)
}
