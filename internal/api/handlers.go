/*-------------------------------------------------------------------------
 *
 * handlers.go
 *    API handlers for approvald
 *
 * Provides HTTP handlers for approval requests, reviewer decisions,
 * escalation, bulk approval, webhook delivery inspection and requeue.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/api/handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/outreachforge/approvald/internal/approval"
	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
	"github.com/outreachforge/approvald/internal/utils"
	"github.com/outreachforge/approvald/internal/webhooks"
)

/* maxBodySize caps request bodies (1MB) */
const maxBodySize = 1024 * 1024

type Handlers struct {
	orch    *approval.Orchestrator
	queue   *webhooks.Queue
	queries *db.Queries
}

func NewHandlers(orch *approval.Orchestrator, queue *webhooks.Queue, queries *db.Queries) *Handlers {
	return &Handlers{
		orch:    orch,
		queue:   queue,
		queries: queries,
	}
}

/* Approvals */

func (h *Handlers) CreateApproval(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var params approval.CreateParams
	if !decodeBody(w, r, &params) {
		return
	}

	req, err := h.orch.CreateRequest(r.Context(), params)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusCreated, toApprovalResponse(req))
}

func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	req, err := h.orch.GetApproval(r.Context(), id)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusOK, toApprovalResponse(req))
}

func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var approvalType *string
	if t := r.URL.Query().Get("type"); t != "" {
		approvalType = &t
	}
	limit, offset := clampPage(queryInt(r, "limit", 50), queryInt(r, "offset", 0))

	pending, err := h.orch.GetPendingApprovals(r.Context(), approvalType, limit, offset)
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusInternalServerError, "failed to list pending approvals", err, requestID, r.URL.Path, r.Method, nil))
		return
	}

	responses := make([]ApprovalResponse, 0, len(pending))
	for i := range pending {
		responses = append(responses, toApprovalResponse(&pending[i]))
	}
	respondJSON(w, http.StatusOK, ApprovalListResponse{
		Approvals: responses,
		Count:     len(responses),
		Limit:     limit,
		Offset:    offset,
	})
}

func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	stats, err := h.orch.GetStatistics(r.Context())
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusInternalServerError, "failed to load approval statistics", err, requestID, r.URL.Path, r.Method, nil))
		return
	}

	respondJSON(w, http.StatusOK, StatisticsResponse{
		Total:              stats.Total,
		Pending:            stats.Pending,
		Escalated:          stats.Escalated,
		Approved:           stats.Approved,
		Rejected:           stats.Rejected,
		TimedOut:           stats.TimedOut,
		AutoResolved:       stats.AutoResolved,
		ManualResolved:     stats.ManualResolved,
		AutoResolutionRate: stats.AutoResolutionRate(),
	})
}

func (h *Handlers) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.orch.GetHistory(r.Context(), id)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	responses := make([]HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toHistoryResponse(&entries[i]))
	}
	respondJSON(w, http.StatusOK, HistoryResponse{ApprovalID: id, Entries: responses})
}

/* Decisions */

func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		respondError(w, NewErrorWithContext(http.StatusBadRequest, "approved is required", nil, requestID, r.URL.Path, r.Method, nil))
		return
	}

	ctx := metrics.WithApprovalIDLogContext(r.Context(), id)
	resolved, err := h.orch.SubmitDecision(ctx, id, *req.Approved, req.ReviewerEmail, req.Comments)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusOK, toApprovalResponse(resolved))
}

func (h *Handlers) EscalateApproval(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req EscalateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EscalateTo == "" {
		respondError(w, NewErrorWithContext(http.StatusBadRequest, "escalate_to is required", nil, requestID, r.URL.Path, r.Method, nil))
		return
	}

	escalated, err := h.orch.Escalate(r.Context(), id, req.EscalateTo)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusOK, toApprovalResponse(escalated))
}

func (h *Handlers) BulkApprove(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req BulkApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ids := make([]uuid.UUID, 0, len(req.ApprovalIDs))
	for _, raw := range req.ApprovalIDs {
		id, err := utils.ParseUUID(raw)
		if err != nil {
			respondError(w, NewErrorWithContext(http.StatusBadRequest, "invalid approval ID in approval_ids", err, requestID, r.URL.Path, r.Method, map[string]interface{}{
				"approval_id": raw,
			}))
			return
		}
		ids = append(ids, id)
	}

	result, err := h.orch.BulkApprove(r.Context(), ids, req.ReviewerEmail, req.Comments)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusOK, result)
}

/* Webhook deliveries */

func (h *Handlers) ListApprovalDeliveries(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	deliveries, err := h.queries.ListDeliveriesForApproval(r.Context(), id)
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusInternalServerError, "failed to list webhook deliveries", err, requestID, r.URL.Path, r.Method, nil))
		return
	}

	respondJSON(w, http.StatusOK, toDeliveryListResponse(deliveries))
}

func (h *Handlers) ListDeadDeliveries(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	limit, offset := clampPage(queryInt(r, "limit", 50), queryInt(r, "offset", 0))

	deliveries, err := h.queries.ListDeadDeliveries(r.Context(), limit, offset)
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusInternalServerError, "failed to list dead deliveries", err, requestID, r.URL.Path, r.Method, nil))
		return
	}

	respondJSON(w, http.StatusOK, toDeliveryListResponse(deliveries))
}

/* ResendResolutionWebhook enqueues a fresh resolution webhook for a
 * terminal approval that has no deliveries at all (the enqueue failed
 * after the resolution committed). Approvals that already have a
 * delivery are refused; operators requeue the delivery instead. */
func (h *Handlers) ResendResolutionWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	existing, err := h.queries.ListDeliveriesForApproval(r.Context(), id)
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusInternalServerError, "failed to list webhook deliveries", err, requestID, r.URL.Path, r.Method, nil))
		return
	}
	if len(existing) > 0 {
		respondError(w, NewErrorWithContext(http.StatusConflict, "webhook deliveries already exist for this approval", nil, requestID, r.URL.Path, r.Method, map[string]interface{}{
			"delivery_id": existing[0].ID.String(),
		}))
		return
	}

	deliveryID, err := h.orch.ResendResolution(r.Context(), id)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusCreated, ResendResponse{ApprovalID: id, DeliveryID: deliveryID})
}

func (h *Handlers) RequeueDelivery(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	requeued, err := h.queue.Requeue(r.Context(), id)
	if err != nil {
		respondError(w, mapDomainError(err, requestID, r.URL.Path, r.Method))
		return
	}

	respondJSON(w, http.StatusOK, toDeliveryResponse(requeued))
}

/* Request / response types */

type DecisionRequest struct {
	Approved      *bool  `json:"approved"`
	ReviewerEmail string `json:"reviewer_email"`
	Comments      string `json:"comments,omitempty"`
}

type EscalateRequest struct {
	EscalateTo string `json:"escalate_to"`
}

type BulkApproveRequest struct {
	ApprovalIDs   []string `json:"approval_ids"`
	ReviewerEmail string   `json:"reviewer_email"`
	Comments      string   `json:"comments,omitempty"`
}

type ApprovalResponse struct {
	ID                  uuid.UUID              `json:"id"`
	ApprovalType        string                 `json:"approval_type"`
	ResourceID          string                 `json:"resource_id"`
	ResourceData        map[string]interface{} `json:"resource_data"`
	WorkflowExecutionID string                 `json:"workflow_execution_id,omitempty"`
	Status              string                 `json:"status"`
	ResolutionMethod    *string                `json:"resolution_method,omitempty"`
	Score               *float64               `json:"score,omitempty"`
	Reviewer            *string                `json:"reviewer,omitempty"`
	Comments            *string                `json:"comments,omitempty"`
	ResumeURL           string                 `json:"resume_url"`
	Approvers           []string               `json:"approvers,omitempty"`
	EscalationLevel     int                    `json:"escalation_level"`
	EscalatedTo         *string                `json:"escalated_to,omitempty"`
	TimeoutAt           time.Time              `json:"timeout_at"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	ResolvedAt          *time.Time             `json:"resolved_at,omitempty"`
}

type ApprovalListResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
	Count     int                `json:"count"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type StatisticsResponse struct {
	Total              int64   `json:"total"`
	Pending            int64   `json:"pending"`
	Escalated          int64   `json:"escalated"`
	Approved           int64   `json:"approved"`
	Rejected           int64   `json:"rejected"`
	TimedOut           int64   `json:"timed_out"`
	AutoResolved       int64   `json:"auto_resolved"`
	ManualResolved     int64   `json:"manual_resolved"`
	AutoResolutionRate float64 `json:"auto_resolution_rate"`
}

type HistoryEntryResponse struct {
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state"`
	Actor     string    `json:"actor"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryResponse struct {
	ApprovalID uuid.UUID              `json:"approval_id"`
	Entries    []HistoryEntryResponse `json:"entries"`
}

type DeliveryResponse struct {
	ID            uuid.UUID  `json:"id"`
	ApprovalID    uuid.UUID  `json:"approval_id"`
	TargetURL     string     `json:"target_url"`
	EventType     string     `json:"event_type"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type DeliveryListResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
	Count      int                `json:"count"`
}

type ResendResponse struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	DeliveryID uuid.UUID `json:"delivery_id"`
}

func toApprovalResponse(req *db.ApprovalRequest) ApprovalResponse {
	return ApprovalResponse{
		ID:                  req.ID,
		ApprovalType:        req.ApprovalType,
		ResourceID:          req.ResourceID,
		ResourceData:        req.ResourceData.ToMap(),
		WorkflowExecutionID: req.WorkflowExecutionID,
		Status:              req.Status,
		ResolutionMethod:    req.ResolutionMethod,
		Score:               req.Score,
		Reviewer:            req.Reviewer,
		Comments:            req.Comments,
		ResumeURL:           req.ResumeURL,
		Approvers:           req.Approvers,
		EscalationLevel:     req.EscalationLevel,
		EscalatedTo:         req.EscalatedTo,
		TimeoutAt:           req.TimeoutAt,
		CreatedAt:           req.CreatedAt,
		UpdatedAt:           req.UpdatedAt,
		ResolvedAt:          req.ResolvedAt,
	}
}

func toHistoryResponse(entry *db.ApprovalHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		FromState: entry.FromState,
		ToState:   entry.ToState,
		Actor:     entry.Actor,
		Reason:    entry.Reason,
		CreatedAt: entry.CreatedAt,
	}
}

func toDeliveryResponse(d *db.WebhookDelivery) DeliveryResponse {
	return DeliveryResponse{
		ID:            d.ID,
		ApprovalID:    d.ApprovalID,
		TargetURL:     d.TargetURL,
		EventType:     d.EventType,
		Status:        d.Status,
		AttemptCount:  d.AttemptCount,
		MaxAttempts:   d.MaxAttempts,
		NextAttemptAt: d.NextAttemptAt,
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.CompletedAt,
	}
}

func toDeliveryListResponse(deliveries []db.WebhookDelivery) DeliveryListResponse {
	responses := make([]DeliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		responses = append(responses, toDeliveryResponse(&deliveries[i]))
	}
	return DeliveryListResponse{Deliveries: responses, Count: len(responses)}
}

/* Helpers */

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	requestID := GetRequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, NewErrorWithContext(http.StatusBadRequest, "request body parsing failed", err, requestID, r.URL.Path, r.Method, nil))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	requestID := GetRequestID(r.Context())

	id, err := utils.ParseUUID(mux.Vars(r)[name])
	if err != nil {
		respondError(w, NewErrorWithContext(http.StatusBadRequest, "invalid ID format", err, requestID, r.URL.Path, r.Method, nil))
		return uuid.Nil, false
	}
	return id, true
}

/* clampPage bounds pagination parameters so caller-supplied values never
 * reach the storage layer unchecked */
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err *APIError) {
	response := ErrorResponse{
		Error: err.Message,
		Code:  err.Code,
	}
	if err.Err != nil {
		response.Message = err.Err.Error()
	}
	if err.Details != nil {
		response.Details = err.Details
	}
	if err.RequestID != "" {
		w.Header().Set("X-Request-ID", err.RequestID)
	}
	respondJSON(w, err.Code, response)
}
