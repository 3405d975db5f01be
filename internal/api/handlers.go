// Package api exposes HTTP handlers for the coaching service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/coaching/internal/auth"
	"example.com/coaching/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/templates", h.templates)
	mux.HandleFunc("/v1/templates/", h.templateByID)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/enrollments", h.enrollments)
	mux.HandleFunc("/v1/enrollments/", h.enrollmentByID)
	mux.HandleFunc("/v1/materializations", h.materializations)
	mux.HandleFunc("/v1/executions", h.executions)
	mux.HandleFunc("/v1/executions/", h.executionByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTemplate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) templateByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/v1/templates/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing template id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getTemplate(w, r, id)
	case action == "attach" && r.Method == http.MethodPost:
		h.attachTemplate(w, r, id)
	case action == "membership" && r.Method == http.MethodPut:
		h.setMembership(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	input := domain.CreateTemplateInput{
		TenantID: claims.TenantID,
		CoachID:  claims.Subject,
		Name:     req.Name,
		Kind:     domain.TemplateKind(req.Kind),
		Content:  req.Content,
	}
	if err := input.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	template, err := h.service.CreateTemplate(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateView(*template))
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	template, err := h.service.GetTemplate(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateView(*template))
}

func (h *Handler) attachTemplate(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	var req AttachTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ActivityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}

	outcome, err := h.service.AttachTemplate(r.Context(), claims.TenantID, id, req.ActivityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AttachTemplateResponse{
		TemplateID: id,
		ActivityID: req.ActivityID,
		Outcome:    string(outcome),
	})
}

func (h *Handler) setMembership(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	var req SetMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ActivityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "active is required")
		return
	}

	if err := h.service.SetTemplateActive(r.Context(), claims.TenantID, id, req.ActivityID, *req.Active); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SetMembershipResponse{
		TemplateID: id,
		ActivityID: req.ActivityID,
		Active:     *req.Active,
	})
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/v1/activities/")
	if id == "" || action != "periods" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id or resource")
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.assignPeriods(w, r, id)
	case http.MethodGet:
		h.listPeriods(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) assignPeriods(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	var req AssignPeriodsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Count <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "count must be > 0")
		return
	}

	created, err := h.service.AssignPeriods(r.Context(), claims.TenantID, activityID, req.Count, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]PeriodView, 0, len(created))
	for _, period := range created {
		items = append(items, toPeriodView(period))
	}
	writeJSON(w, http.StatusCreated, PeriodsResponse{Items: items})
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeAuthor, auth.ScopeTrack)
	if !ok {
		return
	}

	periods, err := h.service.ListPeriods(r.Context(), claims.TenantID, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]PeriodView, 0, len(periods))
	for _, period := range periods {
		items = append(items, toPeriodView(period))
	}
	writeJSON(w, http.StatusOK, PeriodsResponse{Items: items})
}

func (h *Handler) enrollments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeEnroll)
	if !ok {
		return
	}

	var req CreateEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	enrollment, err := h.service.CreateEnrollment(r.Context(), claims.TenantID, req.ActivityID, req.ClientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEnrollmentView(*enrollment))
}

func (h *Handler) enrollmentByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/v1/enrollments/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing enrollment id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getEnrollment(w, r, id)
	case action == "activate" && r.Method == http.MethodPost:
		h.activateEnrollment(w, r, id)
	case action == "complete" && r.Method == http.MethodPost:
		h.transitionEnrollment(w, r, id, domain.EnrollmentStatusCompleted)
	case action == "cancel" && r.Method == http.MethodPost:
		h.transitionEnrollment(w, r, id, domain.EnrollmentStatusCancelled)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getEnrollment(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeEnroll, auth.ScopeTrack)
	if !ok {
		return
	}

	enrollment, err := h.service.GetEnrollment(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEnrollmentView(*enrollment))
}

func (h *Handler) activateEnrollment(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeEnroll)
	if !ok {
		return
	}

	enrollment, activated, err := h.service.ActivateEnrollment(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ActivateEnrollmentResponse{
		Enrollment: toEnrollmentView(*enrollment),
		Replay:     !activated,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) transitionEnrollment(w http.ResponseWriter, r *http.Request, id string, to domain.EnrollmentStatus) {
	claims, ok := requireScope(w, r, auth.ScopeEnroll)
	if !ok {
		return
	}

	var err error
	switch to {
	case domain.EnrollmentStatusCompleted:
		err = h.service.CompleteEnrollment(r.Context(), claims.TenantID, id)
	case domain.EnrollmentStatusCancelled:
		err = h.service.CancelEnrollment(r.Context(), claims.TenantID, id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	enrollment, err := h.service.GetEnrollment(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentView(*enrollment))
}

func (h *Handler) materializations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeAuthor)
	if !ok {
		return
	}

	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ActivityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}

	var result domain.MaterializeResult
	var err error
	if strings.TrimSpace(req.ClientID) != "" {
		result, err = h.service.Materialize(r.Context(), claims.TenantID, req.ActivityID, req.ClientID)
	} else {
		result, err = h.service.MaterializeActivity(r.Context(), claims.TenantID, req.ActivityID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MaterializeResponse{
		Inserted:       result.Inserted,
		AlreadyPresent: result.AlreadyPresent,
	})
}

func (h *Handler) executions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeTrack, auth.ScopeAuthor)
	if !ok {
		return
	}

	activityID := r.URL.Query().Get("activity_id")
	clientID := r.URL.Query().Get("client_id")
	if activityID == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id and client_id parameters are required")
		return
	}

	executions, err := h.service.ClientExecutions(r.Context(), claims.TenantID, activityID, clientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ExecutionView, 0, len(executions))
	for _, execution := range executions {
		items = append(items, toExecutionView(execution))
	}
	writeJSON(w, http.StatusOK, ExecutionsResponse{Items: items})
}

func (h *Handler) executionByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/v1/executions/")
	if id == "" || action != "completion" || r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeTrack)
	if !ok {
		return
	}

	var req RecordCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := h.service.RecordCompletion(r.Context(), claims.TenantID, id, req.Completed, req.Performance); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// requireScope extracts claims and enforces that at least one of the given
// scopes is present.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

// splitResourcePath breaks "/prefix/{id}" or "/prefix/{id}/{action}" into
// its id and action parts.
func splitResourcePath(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = strings.TrimSuffix(parts[1], "/")
	}
	return id, action
}

// CreateTemplateRequest is the payload for POST /v1/templates.
type CreateTemplateRequest struct {
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Content json.RawMessage `json:"content"`
}

// AttachTemplateRequest is the payload for POST /v1/templates/{id}/attach.
type AttachTemplateRequest struct {
	ActivityID string `json:"activity_id"`
}

// AttachTemplateResponse reports the attach outcome.
type AttachTemplateResponse struct {
	TemplateID string `json:"template_id"`
	ActivityID string `json:"activity_id"`
	Outcome    string `json:"outcome"`
}

// SetMembershipRequest is the payload for PUT /v1/templates/{id}/membership.
type SetMembershipRequest struct {
	ActivityID string `json:"activity_id"`
	Active     *bool  `json:"active"`
}

// SetMembershipResponse echoes the applied membership state.
type SetMembershipResponse struct {
	TemplateID string `json:"template_id"`
	ActivityID string `json:"activity_id"`
	Active     bool   `json:"active"`
}

// MembershipView exposes one membership map entry.
type MembershipView struct {
	ActivityID string    `json:"activity_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TemplateView exposes full details about a template.
type TemplateView struct {
	TemplateID string           `json:"template_id"`
	TenantID   string           `json:"tenant_id"`
	CoachID    string           `json:"coach_id"`
	Name       string           `json:"name"`
	Kind       string           `json:"kind"`
	Content    json.RawMessage  `json:"content,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Membership []MembershipView `json:"membership"`
}

// AssignPeriodsRequest is the payload for POST /v1/activities/{id}/periods.
type AssignPeriodsRequest struct {
	Count int `json:"count"`
}

// PeriodView exposes one period.
type PeriodView struct {
	PeriodID   string    `json:"period_id"`
	ActivityID string    `json:"activity_id"`
	Sequence   int       `json:"sequence"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// PeriodsResponse packages period results.
type PeriodsResponse struct {
	Items []PeriodView `json:"items"`
}

// CreateEnrollmentRequest is the payload for POST /v1/enrollments.
type CreateEnrollmentRequest struct {
	ActivityID string `json:"activity_id"`
	ClientID   string `json:"client_id"`
}

// EnrollmentView exposes full details about an enrollment.
type EnrollmentView struct {
	EnrollmentID string     `json:"enrollment_id"`
	TenantID     string     `json:"tenant_id"`
	ActivityID   string     `json:"activity_id"`
	ClientID     string     `json:"client_id"`
	Status       string     `json:"status"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ActivateEnrollmentResponse reports the activation outcome. Replay is
// true when the enrollment was already active.
type ActivateEnrollmentResponse struct {
	Enrollment EnrollmentView `json:"enrollment"`
	Replay     bool           `json:"idempotent_replay"`
}

// MaterializeRequest is the payload for POST /v1/materializations. An
// empty client_id backfills every active enrollment of the activity.
type MaterializeRequest struct {
	ActivityID string `json:"activity_id"`
	ClientID   string `json:"client_id"`
}

// MaterializeResponse reports a materialization pass.
type MaterializeResponse struct {
	Inserted       int `json:"inserted"`
	AlreadyPresent int `json:"already_present"`
}

// ExecutionView exposes one execution row.
type ExecutionView struct {
	ExecutionID string          `json:"execution_id"`
	ClientID    string          `json:"client_id"`
	TemplateID  string          `json:"template_id"`
	PeriodID    string          `json:"period_id"`
	Completed   bool            `json:"completed"`
	Performance json.RawMessage `json:"performance,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ExecutionsResponse packages execution list results.
type ExecutionsResponse struct {
	Items []ExecutionView `json:"items"`
}

// RecordCompletionRequest is the payload for POST /v1/executions/{id}/completion.
type RecordCompletionRequest struct {
	Completed   bool            `json:"completed"`
	Performance json.RawMessage `json:"performance"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrEnrollmentNotFound),
		errors.Is(err, domain.ErrExecutionNotFound),
		errors.Is(err, domain.ErrNotAttached):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrAlreadyAttached),
		errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, domain.ErrEnrollmentExists),
		errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrStorageConflict):
		writeError(w, http.StatusServiceUnavailable, "storage_contention", "transient storage conflict, retry")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toTemplateView(template domain.Template) TemplateView {
	membership := make([]MembershipView, 0, len(template.Membership))
	for activityID, entry := range template.Membership {
		membership = append(membership, MembershipView{
			ActivityID: activityID,
			Active:     entry.Active,
			CreatedAt:  entry.CreatedAt,
			UpdatedAt:  entry.UpdatedAt,
		})
	}
	return TemplateView{
		TemplateID: template.ID,
		TenantID:   template.TenantID,
		CoachID:    template.CoachID,
		Name:       template.Name,
		Kind:       string(template.Kind),
		Content:    template.Content,
		CreatedAt:  template.CreatedAt,
		UpdatedAt:  template.UpdatedAt,
		Membership: membership,
	}
}

func toPeriodView(period domain.Period) PeriodView {
	return PeriodView{
		PeriodID:   period.ID,
		ActivityID: period.ActivityID,
		Sequence:   period.Sequence,
		CreatedBy:  period.CreatedBy,
		CreatedAt:  period.CreatedAt,
	}
}

func toEnrollmentView(enrollment domain.Enrollment) EnrollmentView {
	return EnrollmentView{
		EnrollmentID: enrollment.ID,
		TenantID:     enrollment.TenantID,
		ActivityID:   enrollment.ActivityID,
		ClientID:     enrollment.ClientID,
		Status:       string(enrollment.Status),
		StartDate:    enrollment.StartDate,
		CreatedAt:    enrollment.CreatedAt,
		UpdatedAt:    enrollment.UpdatedAt,
	}
}

func toExecutionView(execution domain.Execution) ExecutionView {
	return ExecutionView{
		ExecutionID: execution.ID,
		ClientID:    execution.ClientID,
		TemplateID:  execution.TemplateID,
		PeriodID:    execution.PeriodID,
		Completed:   execution.Completed,
		Performance: execution.Performance,
		CompletedAt: execution.CompletedAt,
		CreatedAt:   execution.CreatedAt,
		UpdatedAt:   execution.UpdatedAt,
	}
}
