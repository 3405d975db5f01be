package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"testing"
	"time"
)

// In-memory repositories mirroring the storage contracts: membership
// writes flip entries in place, period assignment only extends upward, and
// execution upserts are keyed by (client, template, period).

type fakeTemplates struct {
	templates map[string]Template
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{templates: map[string]Template{}}
}

func (f *fakeTemplates) Create(_ context.Context, template Template) error {
	if template.Membership == nil {
		template.Membership = map[string]MembershipEntry{}
	}
	f.templates[template.ID] = template
	return nil
}

func (f *fakeTemplates) Get(_ context.Context, _, templateID string) (*Template, error) {
	template, ok := f.templates[templateID]
	if !ok {
		return nil, nil
	}
	copied := template
	copied.Membership = map[string]MembershipEntry{}
	for k, v := range template.Membership {
		copied.Membership[k] = v
	}
	return &copied, nil
}

func (f *fakeTemplates) Attach(_ context.Context, _, templateID, activityID string) (AttachOutcome, error) {
	template, ok := f.templates[templateID]
	if !ok {
		return "", ErrTemplateNotFound
	}
	now := time.Now().UTC()
	entry, exists := template.Membership[activityID]
	if exists && entry.Active {
		return "", ErrAlreadyAttached
	}
	if exists {
		entry.Active = true
		entry.UpdatedAt = now
		template.Membership[activityID] = entry
		return AttachOutcomeReactivated, nil
	}
	template.Membership[activityID] = MembershipEntry{Active: true, CreatedAt: now, UpdatedAt: now}
	return AttachOutcomeAttached, nil
}

func (f *fakeTemplates) SetActive(_ context.Context, _, templateID, activityID string, active bool) (bool, error) {
	template, ok := f.templates[templateID]
	if !ok {
		return false, ErrTemplateNotFound
	}
	entry, exists := template.Membership[activityID]
	if !exists {
		return false, ErrNotAttached
	}
	reactivated := !entry.Active && active
	entry.Active = active
	entry.UpdatedAt = time.Now().UTC()
	template.Membership[activityID] = entry
	return reactivated, nil
}

func (f *fakeTemplates) ActiveTemplates(_ context.Context, _, activityID string) ([]Template, error) {
	var out []Template
	for _, template := range f.templates {
		if template.ActiveFor(activityID) {
			out = append(out, template)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePeriods struct {
	byActivity map[string][]Period
}

func newFakePeriods() *fakePeriods {
	return &fakePeriods{byActivity: map[string][]Period{}}
}

func (f *fakePeriods) Assign(_ context.Context, tenantID, activityID string, count int, createdBy string) ([]Period, error) {
	existing := f.byActivity[activityID]
	maxSeq := len(existing)
	if count <= maxSeq {
		return nil, fmt.Errorf("%w: have %d periods, requested %d", ErrAlreadyAssigned, maxSeq, count)
	}

	now := time.Now().UTC()
	created := make([]Period, 0, count-maxSeq)
	for seq := maxSeq + 1; seq <= count; seq++ {
		created = append(created, Period{
			ID:         fmt.Sprintf("%s-p%d", activityID, seq),
			TenantID:   tenantID,
			ActivityID: activityID,
			Sequence:   seq,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		})
	}
	f.byActivity[activityID] = append(existing, created...)
	return created, nil
}

func (f *fakePeriods) List(_ context.Context, _, activityID string) ([]Period, error) {
	periods := append([]Period(nil), f.byActivity[activityID]...)
	sort.Slice(periods, func(i, j int) bool { return periods[i].Sequence < periods[j].Sequence })
	return periods, nil
}

type fakeEnrollments struct {
	enrollments map[string]Enrollment
}

func newFakeEnrollments() *fakeEnrollments {
	return &fakeEnrollments{enrollments: map[string]Enrollment{}}
}

func (f *fakeEnrollments) Create(_ context.Context, enrollment Enrollment) error {
	for _, existing := range f.enrollments {
		if existing.ActivityID == enrollment.ActivityID &&
			existing.ClientID == enrollment.ClientID &&
			existing.Status != EnrollmentStatusCancelled {
			return ErrEnrollmentExists
		}
	}
	f.enrollments[enrollment.ID] = enrollment
	return nil
}

func (f *fakeEnrollments) Get(_ context.Context, _, enrollmentID string) (*Enrollment, error) {
	enrollment, ok := f.enrollments[enrollmentID]
	if !ok {
		return nil, nil
	}
	copied := enrollment
	return &copied, nil
}

func (f *fakeEnrollments) Activate(_ context.Context, _, enrollmentID string, now time.Time) (*Enrollment, bool, error) {
	enrollment, ok := f.enrollments[enrollmentID]
	if !ok {
		return nil, false, ErrEnrollmentNotFound
	}
	if enrollment.Status == EnrollmentStatusActive {
		copied := enrollment
		return &copied, false, nil
	}
	if !enrollment.Status.CanTransition(EnrollmentStatusActive) {
		return nil, false, TransitionError(enrollment.Status, EnrollmentStatusActive)
	}
	enrollment.Status = EnrollmentStatusActive
	if enrollment.StartDate == nil {
		stamped := now
		enrollment.StartDate = &stamped
	}
	enrollment.UpdatedAt = now
	f.enrollments[enrollmentID] = enrollment
	copied := enrollment
	return &copied, true, nil
}

func (f *fakeEnrollments) Transition(_ context.Context, _, enrollmentID string, to EnrollmentStatus, now time.Time) error {
	enrollment, ok := f.enrollments[enrollmentID]
	if !ok {
		return ErrEnrollmentNotFound
	}
	if !enrollment.Status.CanTransition(to) {
		return TransitionError(enrollment.Status, to)
	}
	enrollment.Status = to
	enrollment.UpdatedAt = now
	f.enrollments[enrollmentID] = enrollment
	return nil
}

func (f *fakeEnrollments) ListActive(_ context.Context, _, activityID string) ([]Enrollment, error) {
	var out []Enrollment
	for _, enrollment := range f.enrollments {
		if enrollment.ActivityID == activityID && enrollment.Status == EnrollmentStatusActive {
			out = append(out, enrollment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeExecutions struct {
	rows map[string]Execution

	// conflictsLeft injects transient storage conflicts on BulkUpsert.
	conflictsLeft int
	upsertCalls   int
}

func newFakeExecutions() *fakeExecutions {
	return &fakeExecutions{rows: map[string]Execution{}}
}

func executionKey(execution Execution) string {
	return execution.ClientID + "|" + execution.TemplateID + "|" + execution.PeriodID
}

func (f *fakeExecutions) BulkUpsert(_ context.Context, _ string, executions []Execution) (int, error) {
	f.upsertCalls++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return 0, ErrStorageConflict
	}
	inserted := 0
	for _, execution := range executions {
		key := executionKey(execution)
		if _, exists := f.rows[key]; exists {
			continue
		}
		f.rows[key] = execution
		inserted++
	}
	return inserted, nil
}

func (f *fakeExecutions) ListForClient(_ context.Context, _, _, clientID string) ([]Execution, error) {
	var out []Execution
	for _, execution := range f.rows {
		if execution.ClientID == clientID {
			out = append(out, execution)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeExecutions) RecordCompletion(_ context.Context, _, executionID string, completed bool, performance json.RawMessage, now time.Time) error {
	for key, execution := range f.rows {
		if execution.ID != executionID {
			continue
		}
		execution.Completed = completed
		if performance != nil {
			execution.Performance = performance
		}
		if completed {
			stamped := now
			execution.CompletedAt = &stamped
		} else {
			execution.CompletedAt = nil
		}
		execution.UpdatedAt = now
		f.rows[key] = execution
		return nil
	}
	return ErrExecutionNotFound
}

type fixture struct {
	templates   *fakeTemplates
	periods     *fakePeriods
	enrollments *fakeEnrollments
	executions  *fakeExecutions
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		templates:   newFakeTemplates(),
		periods:     newFakePeriods(),
		enrollments: newFakeEnrollments(),
		executions:  newFakeExecutions(),
	}
	f.service = NewService(f.templates, f.periods, f.enrollments, f.executions,
		WithLogger(log.New(quietWriter{t}, "", 0)),
		WithConflictRetry(3, time.Millisecond),
	)
	return f
}

// seedActivity attaches templateCount active templates and assigns
// periodCount periods to the activity.
func (f *fixture) seedActivity(t *testing.T, tenantID, activityID string, templateCount, periodCount int) []string {
	t.Helper()
	ctx := context.Background()

	templateIDs := make([]string, 0, templateCount)
	for i := 0; i < templateCount; i++ {
		template, err := f.service.CreateTemplate(ctx, CreateTemplateInput{
			TenantID: tenantID,
			CoachID:  "coach-1",
			Name:     fmt.Sprintf("template-%d", i+1),
			Kind:     TemplateKindExercise,
		})
		if err != nil {
			t.Fatalf("create template: %v", err)
		}
		if _, err := f.service.AttachTemplate(ctx, tenantID, template.ID, activityID); err != nil {
			t.Fatalf("attach template: %v", err)
		}
		templateIDs = append(templateIDs, template.ID)
	}

	if periodCount > 0 {
		if _, err := f.service.AssignPeriods(ctx, tenantID, activityID, periodCount, "coach-1"); err != nil {
			t.Fatalf("assign periods: %v", err)
		}
	}
	return templateIDs
}

type quietWriter struct {
	t *testing.T
}

func (w quietWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
