package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/coaching/internal/auth"
	"example.com/coaching/internal/domain"
)

// Minimal in-memory repositories for handler tests. Behaviour is canned
// per test via the err fields; richer semantics live in the domain tests.

type mockTemplates struct {
	template *domain.Template
	outcome  domain.AttachOutcome
	err      error
}

func (m *mockTemplates) Create(_ context.Context, template domain.Template) error {
	stored := template
	m.template = &stored
	return m.err
}

func (m *mockTemplates) Get(_ context.Context, _, _ string) (*domain.Template, error) {
	return m.template, m.err
}

func (m *mockTemplates) Attach(_ context.Context, _, _, _ string) (domain.AttachOutcome, error) {
	return m.outcome, m.err
}

func (m *mockTemplates) SetActive(_ context.Context, _, _, _ string, _ bool) (bool, error) {
	return false, m.err
}

func (m *mockTemplates) ActiveTemplates(_ context.Context, _, _ string) ([]domain.Template, error) {
	return nil, nil
}

type mockPeriods struct {
	created []domain.Period
	err     error
}

func (m *mockPeriods) Assign(_ context.Context, _, _ string, _ int, _ string) ([]domain.Period, error) {
	return m.created, m.err
}

func (m *mockPeriods) List(_ context.Context, _, _ string) ([]domain.Period, error) {
	return m.created, nil
}

type mockEnrollments struct {
	enrollment *domain.Enrollment
	activated  bool
	err        error
}

func (m *mockEnrollments) Create(_ context.Context, enrollment domain.Enrollment) error {
	if m.err != nil {
		return m.err
	}
	stored := enrollment
	m.enrollment = &stored
	return nil
}

func (m *mockEnrollments) Get(_ context.Context, _, _ string) (*domain.Enrollment, error) {
	return m.enrollment, nil
}

func (m *mockEnrollments) Activate(_ context.Context, _, _ string, _ time.Time) (*domain.Enrollment, bool, error) {
	return m.enrollment, m.activated, m.err
}

func (m *mockEnrollments) Transition(_ context.Context, _, _ string, _ domain.EnrollmentStatus, _ time.Time) error {
	return m.err
}

func (m *mockEnrollments) ListActive(_ context.Context, _, _ string) ([]domain.Enrollment, error) {
	return nil, nil
}

type mockExecutions struct {
	rows []domain.Execution
	err  error
}

func (m *mockExecutions) BulkUpsert(_ context.Context, _ string, _ []domain.Execution) (int, error) {
	return 0, nil
}

func (m *mockExecutions) ListForClient(_ context.Context, _, _, _ string) ([]domain.Execution, error) {
	return m.rows, m.err
}

func (m *mockExecutions) RecordCompletion(_ context.Context, _, _ string, _ bool, _ json.RawMessage, _ time.Time) error {
	return m.err
}

type mocks struct {
	templates   *mockTemplates
	periods     *mockPeriods
	enrollments *mockEnrollments
	executions  *mockExecutions
}

func newTestHandler() (*Handler, *mocks) {
	m := &mocks{
		templates:   &mockTemplates{},
		periods:     &mockPeriods{},
		enrollments: &mockEnrollments{},
		executions:  &mockExecutions{},
	}
	service := domain.NewService(m.templates, m.periods, m.enrollments, m.executions)
	return NewHandler(service), m
}

func authedRequest(method, target string, body string, scopes ...string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)

	scopeSet := map[string]struct{}{}
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "coach-1",
		TenantID:  "tenant-1",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestCreateTemplateSuccess(t *testing.T) {
	handler, m := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/templates",
		`{"name":"push day","kind":"exercise","content":{"blocks":[]}}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templates(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TemplateView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "push day" || resp.Kind != "exercise" {
		t.Fatalf("unexpected template view: %+v", resp)
	}
	if resp.CoachID != "coach-1" {
		t.Fatalf("coach id should come from claims, got %s", resp.CoachID)
	}
	if m.templates.template == nil {
		t.Fatal("template was not persisted")
	}
}

func TestCreateTemplateRejectsBadKind(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/templates",
		`{"name":"snacks","kind":"snack"}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templates(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateTemplateRequiresAuthorScope(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/templates",
		`{"name":"push day","kind":"exercise"}`, auth.ScopeTrack)
	rr := httptest.NewRecorder()
	handler.templates(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestAttachTemplateConflict(t *testing.T) {
	handler, m := newTestHandler()
	m.templates.err = domain.ErrAlreadyAttached

	req := authedRequest(http.MethodPost, "/v1/templates/tpl-1/attach",
		`{"activity_id":"act-1"}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templateByID(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAttachTemplateReportsOutcome(t *testing.T) {
	handler, m := newTestHandler()
	m.templates.outcome = domain.AttachOutcomeReactivated

	req := authedRequest(http.MethodPost, "/v1/templates/tpl-1/attach",
		`{"activity_id":"act-1"}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templateByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp AttachTemplateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Outcome != "reactivated" {
		t.Fatalf("expected reactivated outcome, got %q", resp.Outcome)
	}
}

func TestSetMembershipRequiresActiveField(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPut, "/v1/templates/tpl-1/membership",
		`{"activity_id":"act-1"}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templateByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSetMembershipNotAttached(t *testing.T) {
	handler, m := newTestHandler()
	m.templates.err = domain.ErrNotAttached

	req := authedRequest(http.MethodPut, "/v1/templates/tpl-1/membership",
		`{"activity_id":"act-1","active":false}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.templateByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAssignPeriodsAlreadyAssigned(t *testing.T) {
	handler, m := newTestHandler()
	m.periods.err = domain.ErrAlreadyAssigned

	req := authedRequest(http.MethodPost, "/v1/activities/act-1/periods",
		`{"count":4}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAssignPeriodsValidatesCount(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/activities/act-1/periods",
		`{"count":0}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateEnrollmentDuplicate(t *testing.T) {
	handler, m := newTestHandler()
	m.enrollments.err = domain.ErrEnrollmentExists

	req := authedRequest(http.MethodPost, "/v1/enrollments",
		`{"activity_id":"act-1","client_id":"client-1"}`, auth.ScopeEnroll)
	rr := httptest.NewRecorder()
	handler.enrollments(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestActivateEnrollmentReportsReplay(t *testing.T) {
	handler, m := newTestHandler()
	start := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	m.enrollments.enrollment = &domain.Enrollment{
		ID:         "enr-1",
		TenantID:   "tenant-1",
		ActivityID: "act-1",
		ClientID:   "client-1",
		Status:     domain.EnrollmentStatusActive,
		StartDate:  &start,
	}
	m.enrollments.activated = false

	req := authedRequest(http.MethodPost, "/v1/enrollments/enr-1/activate", "", auth.ScopeEnroll)
	rr := httptest.NewRecorder()
	handler.enrollmentByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ActivateEnrollmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Replay {
		t.Fatal("expected idempotent_replay true for already-active enrollment")
	}
	if resp.Enrollment.StartDate == nil || !resp.Enrollment.StartDate.Equal(start) {
		t.Fatalf("start date must not move on replay: %+v", resp.Enrollment.StartDate)
	}
}

func TestTransitionEnrollmentInvalid(t *testing.T) {
	handler, m := newTestHandler()
	m.enrollments.err = domain.TransitionError(domain.EnrollmentStatusPending, domain.EnrollmentStatusCompleted)

	req := authedRequest(http.MethodPost, "/v1/enrollments/enr-1/complete", "", auth.ScopeEnroll)
	rr := httptest.NewRecorder()
	handler.enrollmentByID(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListExecutionsRequiresParameters(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodGet, "/v1/executions?activity_id=act-1", "", auth.ScopeTrack)
	rr := httptest.NewRecorder()
	handler.executions(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRecordCompletionNotFound(t *testing.T) {
	handler, m := newTestHandler()
	m.executions.err = domain.ErrExecutionNotFound

	req := authedRequest(http.MethodPost, "/v1/executions/exec-1/completion",
		`{"completed":true,"performance":{"reps":8}}`, auth.ScopeTrack)
	rr := httptest.NewRecorder()
	handler.executionByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMaterializationsRequireActivityID(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/materializations", `{}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.materializations(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMaterializationsEmptyActivity(t *testing.T) {
	handler, _ := newTestHandler()

	req := authedRequest(http.MethodPost, "/v1/materializations",
		`{"activity_id":"act-1","client_id":"client-1"}`, auth.ScopeAuthor)
	rr := httptest.NewRecorder()
	handler.materializations(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp MaterializeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Inserted != 0 || resp.AlreadyPresent != 0 {
		t.Fatalf("expected empty result, got %+v", resp)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/templates", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.templates(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}
