package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/coaching/internal/domain"
	"example.com/coaching/internal/events"
)

// EnrollmentStore implements domain.EnrollmentRepository.
type EnrollmentStore struct {
	store
}

const enrollmentColumns = `enrollment_id, tenant_id, activity_id, client_id, status, start_date, created_at, updated_at`

// Create persists a pending enrollment. The partial unique index
// on (activity_id, client_id) over non-cancelled rows enforces the
// one-enrollment invariant.
func (s *EnrollmentStore) Create(ctx context.Context, enrollment domain.Enrollment) error {
	tx, err := s.beginTenantTx(ctx, enrollment.TenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO enrollments (enrollment_id, tenant_id, activity_id, client_id, status, start_date, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err := tx.Exec(ctx, stmt,
		enrollment.ID,
		enrollment.TenantID,
		enrollment.ActivityID,
		enrollment.ClientID,
		enrollment.Status,
		enrollment.StartDate,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err, "enrollments_one_per_client_activity") {
			return domain.ErrEnrollmentExists
		}
		return mapPgError(err)
	}
	return tx.Commit(ctx)
}

// Get retrieves an enrollment by id.
func (s *EnrollmentStore) Get(ctx context.Context, tenantID, enrollmentID string) (*domain.Enrollment, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	enrollment, err := scanEnrollment(tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE enrollment_id=$1`, enrollmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Activate performs the pending->active transition under a row lock. The
// status write, the one-time start-date stamp, and the activation event
// commit atomically. An already-active enrollment is an idempotent replay:
// no write happens and the stored start date is returned untouched.
func (s *EnrollmentStore) Activate(ctx context.Context, tenantID, enrollmentID string, now time.Time) (*domain.Enrollment, bool, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	enrollment, err := scanEnrollment(tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE enrollment_id=$1 FOR UPDATE`, enrollmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrEnrollmentNotFound
		}
		return nil, false, mapPgError(err)
	}

	if enrollment.Status == domain.EnrollmentStatusActive {
		return enrollment, false, tx.Commit(ctx)
	}
	if !enrollment.Status.CanTransition(domain.EnrollmentStatusActive) {
		return nil, false, domain.TransitionError(enrollment.Status, domain.EnrollmentStatusActive)
	}

	start := now
	if enrollment.StartDate != nil {
		start = *enrollment.StartDate
	}

	const stmt = `UPDATE enrollments
        SET status=$2, start_date=COALESCE(start_date, $3), updated_at=$4
        WHERE enrollment_id=$1`
	if _, err := tx.Exec(ctx, stmt, enrollmentID, domain.EnrollmentStatusActive, start, now); err != nil {
		return nil, false, mapPgError(err)
	}

	err = insertOutbox(ctx, tx, tenantID, "enrollment", enrollmentID, events.TypeEnrollmentActivated, enrollment.ActivityID, events.EnrollmentActivated{
		EnrollmentID: enrollmentID,
		TenantID:     tenantID,
		ActivityID:   enrollment.ActivityID,
		ClientID:     enrollment.ClientID,
		StartDate:    start,
		OccurredAt:   now,
	})
	if err != nil {
		return nil, false, err
	}

	enrollment.Status = domain.EnrollmentStatusActive
	enrollment.StartDate = &start
	enrollment.UpdatedAt = now
	return enrollment, true, tx.Commit(ctx)
}

// Transition applies a monotonic status change (complete, cancel).
func (s *EnrollmentStore) Transition(ctx context.Context, tenantID, enrollmentID string, to domain.EnrollmentStatus, now time.Time) error {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	enrollment, err := scanEnrollment(tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE enrollment_id=$1 FOR UPDATE`, enrollmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEnrollmentNotFound
		}
		return mapPgError(err)
	}

	if !enrollment.Status.CanTransition(to) {
		return domain.TransitionError(enrollment.Status, to)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE enrollments SET status=$2, updated_at=$3 WHERE enrollment_id=$1`,
		enrollmentID, to, now,
	); err != nil {
		return mapPgError(err)
	}
	return tx.Commit(ctx)
}

// ListActive returns the active enrollments of an activity.
func (s *EnrollmentStore) ListActive(ctx context.Context, tenantID, activityID string) ([]domain.Enrollment, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT ` + enrollmentColumns + `
        FROM enrollments WHERE activity_id=$1 AND status=$2 ORDER BY created_at, enrollment_id`

	rows, err := tx.Query(ctx, query, activityID, domain.EnrollmentStatusActive)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	enrollments := make([]domain.Enrollment, 0)
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return enrollments, tx.Commit(ctx)
}

func scanEnrollment(row pgx.Row) (*domain.Enrollment, error) {
	var enrollment domain.Enrollment
	if err := row.Scan(
		&enrollment.ID,
		&enrollment.TenantID,
		&enrollment.ActivityID,
		&enrollment.ClientID,
		&enrollment.Status,
		&enrollment.StartDate,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &enrollment, nil
}
