package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/coaching/internal/domain"
	"example.com/coaching/internal/events"
)

// TemplateStore implements domain.TemplateRepository.
type TemplateStore struct {
	store
}

// Create persists a new template.
func (s *TemplateStore) Create(ctx context.Context, template domain.Template) error {
	tx, err := s.beginTenantTx(ctx, template.TenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO templates (template_id, tenant_id, coach_id, name, kind, content, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err := tx.Exec(ctx, stmt,
		template.ID,
		template.TenantID,
		template.CoachID,
		template.Name,
		template.Kind,
		template.Content,
		template.CreatedAt,
		template.UpdatedAt,
	); err != nil {
		return mapPgError(err)
	}
	return tx.Commit(ctx)
}

// Get retrieves a template together with its membership map.
func (s *TemplateStore) Get(ctx context.Context, tenantID, templateID string) (*domain.Template, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT template_id, tenant_id, coach_id, name, kind, content, created_at, updated_at
        FROM templates WHERE template_id=$1`

	var template domain.Template
	row := tx.QueryRow(ctx, query, templateID)
	if err := row.Scan(&template.ID, &template.TenantID, &template.CoachID, &template.Name, &template.Kind, &template.Content, &template.CreatedAt, &template.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, mapPgError(err)
	}

	template.Membership, err = loadMembership(ctx, tx, templateID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &template, nil
}

func loadMembership(ctx context.Context, tx pgx.Tx, templateID string) (map[string]domain.MembershipEntry, error) {
	const query = `SELECT activity_id, active, created_at, updated_at
        FROM template_activity_membership WHERE template_id=$1`

	rows, err := tx.Query(ctx, query, templateID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	membership := make(map[string]domain.MembershipEntry)
	for rows.Next() {
		var activityID string
		var entry domain.MembershipEntry
		if err := rows.Scan(&activityID, &entry.Active, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		membership[activityID] = entry
	}
	return membership, rows.Err()
}

// Attach adds an activity to the template's membership map. Writes for a
// single template serialize on a row lock of the template itself, so two
// activities attaching concurrently never lose each other's entry.
func (s *TemplateStore) Attach(ctx context.Context, tenantID, templateID, activityID string) (domain.AttachOutcome, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if err := lockTemplate(ctx, tx, templateID); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	active, found, err := membershipFlag(ctx, tx, templateID, activityID)
	if err != nil {
		return "", err
	}

	switch {
	case !found:
		const stmt = `INSERT INTO template_activity_membership (template_id, activity_id, tenant_id, active, created_at, updated_at)
            VALUES ($1,$2,$3,TRUE,$4,$4)`
		if _, err := tx.Exec(ctx, stmt, templateID, activityID, tenantID, now); err != nil {
			return "", mapPgError(err)
		}
		return domain.AttachOutcomeAttached, tx.Commit(ctx)

	case active:
		return "", domain.ErrAlreadyAttached

	default:
		// Present but inactive: this attach is a reactivation.
		if err := flipMembership(ctx, tx, tenantID, templateID, activityID, true, false, now); err != nil {
			return "", err
		}
		return domain.AttachOutcomeReactivated, tx.Commit(ctx)
	}
}

// SetActive flips the membership flag for one activity. Deactivation only
// flips: the entry is never removed and no execution rows are touched.
// Reactivation additionally records the backfill trigger event inside the
// same transaction, so the flip is durable before any backfill runs.
func (s *TemplateStore) SetActive(ctx context.Context, tenantID, templateID, activityID string, active bool) (bool, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := lockTemplate(ctx, tx, templateID); err != nil {
		return false, err
	}

	wasActive, found, err := membershipFlag(ctx, tx, templateID, activityID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, domain.ErrNotAttached
	}

	now := time.Now().UTC()
	if err := flipMembership(ctx, tx, tenantID, templateID, activityID, active, wasActive, now); err != nil {
		return false, err
	}

	reactivated := active && !wasActive
	return reactivated, tx.Commit(ctx)
}

// lockTemplate takes the per-template write lock (and doubles as the
// existence check).
func lockTemplate(ctx context.Context, tx pgx.Tx, templateID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT template_id FROM templates WHERE template_id=$1 FOR UPDATE`, templateID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTemplateNotFound
	}
	return mapPgError(err)
}

func membershipFlag(ctx context.Context, tx pgx.Tx, templateID, activityID string) (active, found bool, err error) {
	err = tx.QueryRow(ctx,
		`SELECT active FROM template_activity_membership WHERE template_id=$1 AND activity_id=$2`,
		templateID, activityID,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, mapPgError(err)
	}
	return active, true, nil
}

func flipMembership(ctx context.Context, tx pgx.Tx, tenantID, templateID, activityID string, active, wasActive bool, now time.Time) error {
	const stmt = `UPDATE template_activity_membership SET active=$3, updated_at=$4
        WHERE template_id=$1 AND activity_id=$2`
	if _, err := tx.Exec(ctx, stmt, templateID, activityID, active, now); err != nil {
		return mapPgError(err)
	}

	// The trigger event marks a false→true transition, not the flag value:
	// re-asserting an already-active entry must not fan out a backfill.
	if !active || wasActive {
		return nil
	}
	return insertOutbox(ctx, tx, tenantID, "template", templateID, events.TypeTemplateReactivated, activityID, events.TemplateReactivated{
		TemplateID: templateID,
		TenantID:   tenantID,
		ActivityID: activityID,
		OccurredAt: now,
	})
}

// ActiveTemplates returns the templates whose membership entry for the
// activity is currently active.
func (s *TemplateStore) ActiveTemplates(ctx context.Context, tenantID, activityID string) ([]domain.Template, error) {
	tx, err := s.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT t.template_id, t.tenant_id, t.coach_id, t.name, t.kind, t.content, t.created_at, t.updated_at
        FROM templates t
        JOIN template_activity_membership m ON m.template_id = t.template_id
        WHERE m.activity_id=$1 AND m.active
        ORDER BY t.created_at, t.template_id`

	rows, err := tx.Query(ctx, query, activityID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	templates := make([]domain.Template, 0)
	for rows.Next() {
		var template domain.Template
		if err := rows.Scan(&template.ID, &template.TenantID, &template.CoachID, &template.Name, &template.Kind, &template.Content, &template.CreatedAt, &template.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, tx.Commit(ctx)
}
