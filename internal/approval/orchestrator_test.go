/*-------------------------------------------------------------------------
 *
 * orchestrator_test.go
 *    Tests for approval lifecycle orchestration
 *
 * The fake store reproduces the storage-layer compare-and-swap: terminal
 * rows reject further transitions, and expiry claims each overdue row
 * exactly once. That is what the concurrency tests lean on.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/approval/orchestrator_test.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/rules"
	"github.com/outreachforge/approvald/internal/webhooks"
)

/* The database layer must keep satisfying the orchestrator's interfaces;
 * these fail the build on signature drift even though the suite itself
 * runs on fakes */
var (
	_ Store    = (*db.Queries)(nil)
	_ Enqueuer = (*webhooks.Queue)(nil)
)

/* memoryStore implements Store with the same transition rules as the
 * database queries */
type memoryStore struct {
	mu        sync.Mutex
	approvals map[uuid.UUID]*db.ApprovalRequest
	history   []db.ApprovalHistoryEntry
	rules     []db.ApprovalRule
	decisions map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		approvals: make(map[uuid.UUID]*db.ApprovalRequest),
		decisions: make(map[string]bool),
	}
}

func (s *memoryStore) CreateApproval(ctx context.Context, req *db.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *req
	s.approvals[req.ID] = &copied
	return nil
}

func (s *memoryStore) GetApproval(ctx context.Context, id uuid.UUID) (*db.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval '%s': %w", id, db.ErrNotFound)
	}
	copied := *req
	return &copied, nil
}

func nonTerminal(status string) bool {
	return status == db.StatusPending || status == db.StatusEscalated
}

func (s *memoryStore) ResolveApproval(ctx context.Context, id uuid.UUID, status, method string, reviewer, comments *string) (*db.ApprovalRequest, db.ResolveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, db.OutcomeNotFound, nil
	}
	if !nonTerminal(req.Status) {
		return nil, db.OutcomeConflict, nil
	}
	now := time.Now()
	req.Status = status
	req.ResolutionMethod = &method
	req.Reviewer = reviewer
	req.Comments = comments
	req.ResolvedAt = &now
	req.UpdatedAt = now
	copied := *req
	return &copied, db.OutcomeUpdated, nil
}

func (s *memoryStore) EscalateApproval(ctx context.Context, id uuid.UUID, level int, escalatedTo string) (*db.ApprovalRequest, db.ResolveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, db.OutcomeNotFound, nil
	}
	if !nonTerminal(req.Status) || req.EscalationLevel >= level {
		return nil, db.OutcomeConflict, nil
	}
	req.Status = db.StatusEscalated
	req.EscalationLevel = level
	req.EscalatedTo = &escalatedTo
	req.UpdatedAt = time.Now()
	copied := *req
	return &copied, db.OutcomeUpdated, nil
}

func (s *memoryStore) ExpireApprovals(ctx context.Context, now time.Time) ([]db.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []db.ApprovalRequest
	method := db.MethodTimeout
	for _, req := range s.approvals {
		if nonTerminal(req.Status) && !req.TimeoutAt.After(now) {
			req.Status = db.StatusTimeout
			req.ResolutionMethod = &method
			ts := now
			req.ResolvedAt = &ts
			req.UpdatedAt = now
			expired = append(expired, *req)
		}
	}
	return expired, nil
}

func (s *memoryStore) ListPendingApprovals(ctx context.Context, approvalType *string, limit, offset int) ([]db.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []db.ApprovalRequest
	for _, req := range s.approvals {
		if !nonTerminal(req.Status) {
			continue
		}
		if approvalType != nil && req.ApprovalType != *approvalType {
			continue
		}
		pending = append(pending, *req)
	}
	return pending, nil
}

func (s *memoryStore) ListEscalationDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]db.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []db.ApprovalRequest
	for _, req := range s.approvals {
		if req.Status != db.StatusPending || req.EscalationLevel != 0 {
			continue
		}
		if req.TimeoutAt.After(now) && !req.TimeoutAt.Add(-lead).After(now) {
			due = append(due, *req)
		}
	}
	return due, nil
}

func (s *memoryStore) GetApprovalStatistics(ctx context.Context) (*db.ApprovalStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &db.ApprovalStatistics{}
	for _, req := range s.approvals {
		stats.Total++
		switch req.Status {
		case db.StatusPending:
			stats.Pending++
		case db.StatusEscalated:
			stats.Escalated++
		case db.StatusApproved:
			stats.Approved++
		case db.StatusRejected:
			stats.Rejected++
		case db.StatusTimeout:
			stats.TimedOut++
		}
		if req.ResolutionMethod != nil {
			switch *req.ResolutionMethod {
			case db.MethodAuto:
				stats.AutoResolved++
			case db.MethodManual:
				stats.ManualResolved++
			}
		}
	}
	return stats, nil
}

func (s *memoryStore) AppendHistory(ctx context.Context, entry *db.ApprovalHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *memoryStore) ListHistory(ctx context.Context, approvalID uuid.UUID) ([]db.ApprovalHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []db.ApprovalHistoryEntry
	for _, e := range s.history {
		if e.ApprovalID == approvalID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

/* RuleSource for the rules engine */

func (s *memoryStore) ListActiveRules(ctx context.Context, approvalType string) ([]db.ApprovalRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.ApprovalRule
	for _, r := range s.rules {
		for _, t := range r.ApprovalTypes {
			if r.IsActive && t == approvalType {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) RecordRuleDecision(ctx context.Context, ruleID int64, approvalID uuid.UUID, outcome string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d:%s", ruleID, approvalID)
	if s.decisions[key] {
		return false, nil
	}
	s.decisions[key] = true
	return true, nil
}

/* recordingEnqueuer captures enqueued webhooks */
type recordingEnqueuer struct {
	mu       sync.Mutex
	enqueued []enqueuedEvent
	failNext error
}

type enqueuedEvent struct {
	approvalID uuid.UUID
	targetURL  string
	eventType  webhooks.EventType
	data       map[string]interface{}
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, approvalID uuid.UUID, targetURL string, eventType webhooks.EventType, data map[string]interface{}) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil
		return uuid.Nil, err
	}
	e.enqueued = append(e.enqueued, enqueuedEvent{approvalID, targetURL, eventType, data})
	return uuid.New(), nil
}

func (e *recordingEnqueuer) events() []enqueuedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]enqueuedEvent, len(e.enqueued))
	copy(out, e.enqueued)
	return out
}

func newTestOrchestrator(store *memoryStore) (*Orchestrator, *recordingEnqueuer) {
	enqueuer := &recordingEnqueuer{}
	orch := NewOrchestrator(store, rules.NewEngine(store), enqueuer, nil)
	return orch, enqueuer
}

func intPtr(v int) *int { return &v }

func qualityRule(approveAt float64, rejectAt *float64) db.ApprovalRule {
	return db.ApprovalRule{
		ID:                   1,
		Name:                 "lead-quality",
		ApprovalTypes:        []string{"lead_outreach"},
		Criteria:             db.JSONBMap{},
		Weights:              db.JSONBMap{"quality_score": 1.0},
		AutoApprove:          true,
		AutoApproveThreshold: approveAt,
		AutoRejectThreshold:  rejectAt,
		IsActive:             true,
	}
}

func createParams() CreateParams {
	return CreateParams{
		ApprovalType: "lead_outreach",
		ResourceID:   "lead-42",
		ResourceData: map[string]interface{}{"quality_score": 0.5},
		ResumeURL:    "http://pipeline.internal/resume",
	}
}

/* TestCreateAutoApproved covers the auto-approval path end to end: the
 * request persists already terminal, the resolution webhook is enqueued,
 * and the audit trail records both transitions */
func TestCreateAutoApproved(t *testing.T) {
	store := newMemoryStore()
	store.rules = []db.ApprovalRule{qualityRule(0.8, nil)}
	orch, enqueuer := newTestOrchestrator(store)

	params := createParams()
	params.ResourceData["quality_score"] = 0.95

	req, err := orch.CreateRequest(context.Background(), params)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if req.Status != db.StatusApproved {
		t.Fatalf("Expected approved, got %s", req.Status)
	}
	if req.ResolutionMethod == nil || *req.ResolutionMethod != db.MethodAuto {
		t.Error("Expected auto resolution method")
	}
	if req.Score == nil || *req.Score < 0.9 {
		t.Error("Expected score recorded on the request")
	}
	if req.ResolvedAt == nil {
		t.Error("Expected resolved_at on auto-approved request")
	}

	events := enqueuer.events()
	if len(events) != 1 {
		t.Fatalf("Expected exactly one webhook, got %d", len(events))
	}
	if events[0].eventType != webhooks.EventApprovalApproved {
		t.Errorf("Expected approval.approved event, got %s", events[0].eventType)
	}
	if events[0].targetURL != params.ResumeURL {
		t.Errorf("Expected resume URL target, got %s", events[0].targetURL)
	}
	if events[0].data["approval_id"] != req.ID.String() {
		t.Error("Expected approval_id in webhook data")
	}

	history, _ := store.ListHistory(context.Background(), req.ID)
	if len(history) != 2 {
		t.Fatalf("Expected creation and resolution history entries, got %d", len(history))
	}
	if history[0].ToState != db.StatusPending || history[1].ToState != db.StatusApproved {
		t.Error("Expected pending then approved in the audit trail")
	}

	/* Counter ledger recorded once */
	if !store.decisions[fmt.Sprintf("1:%s", req.ID)] {
		t.Error("Expected rule decision recorded")
	}
}

func TestCreateAutoRejected(t *testing.T) {
	store := newMemoryStore()
	store.rules = []db.ApprovalRule{qualityRule(0.8, floatPtr(0.3))}
	orch, enqueuer := newTestOrchestrator(store)

	params := createParams()
	params.ResourceData["quality_score"] = 0.1

	req, err := orch.CreateRequest(context.Background(), params)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if req.Status != db.StatusRejected {
		t.Fatalf("Expected rejected, got %s", req.Status)
	}

	events := enqueuer.events()
	if len(events) != 1 || events[0].eventType != webhooks.EventApprovalRejected {
		t.Fatalf("Expected one approval.rejected webhook, got %+v", events)
	}
}

func floatPtr(v float64) *float64 { return &v }

/* TestCreateUndecidedLandsPending verifies the undecided band goes to the
 * manual queue with no webhook */
func TestCreateUndecidedLandsPending(t *testing.T) {
	store := newMemoryStore()
	store.rules = []db.ApprovalRule{qualityRule(0.8, floatPtr(0.3))}
	orch, enqueuer := newTestOrchestrator(store)

	req, err := orch.CreateRequest(context.Background(), createParams())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if req.Status != db.StatusPending {
		t.Fatalf("Expected pending, got %s", req.Status)
	}
	if req.ResolvedAt != nil {
		t.Error("Expected no resolution on pending request")
	}
	if len(enqueuer.events()) != 0 {
		t.Error("Expected no webhook for a pending request")
	}
}

/* TestCreateNoRulesLandsPending verifies silence from the rule table is
 * never an implicit rejection */
func TestCreateNoRulesLandsPending(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	req, err := orch.CreateRequest(context.Background(), createParams())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if req.Status != db.StatusPending {
		t.Fatalf("Expected pending when no rules exist, got %s", req.Status)
	}
}

/* TestCreateSnapshotIsolation verifies mutating the caller's map after
 * creation does not change the persisted snapshot */
func TestCreateSnapshotIsolation(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	params := createParams()
	req, err := orch.CreateRequest(context.Background(), params)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	params.ResourceData["quality_score"] = -1.0
	params.ResourceData["injected"] = true

	stored, _ := orch.GetApproval(context.Background(), req.ID)
	if stored.ResourceData["quality_score"] != 0.5 {
		t.Error("Expected snapshot to be isolated from caller mutations")
	}
	if _, ok := stored.ResourceData["injected"]; ok {
		t.Error("Expected new keys not to leak into the snapshot")
	}
}

func TestCreateValidation(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	cases := []func(*CreateParams){
		func(p *CreateParams) { p.ApprovalType = "" },
		func(p *CreateParams) { p.ResourceID = " " },
		func(p *CreateParams) { p.ResumeURL = "" },
		func(p *CreateParams) { p.ResumeURL = "not-a-url" },
		func(p *CreateParams) { p.TimeoutMinutes = intPtr(-5) },
	}
	for i, mutate := range cases {
		params := createParams()
		mutate(&params)
		if _, err := orch.CreateRequest(context.Background(), params); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestSubmitDecisionApproves(t *testing.T) {
	store := newMemoryStore()
	orch, enqueuer := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	resolved, err := orch.SubmitDecision(context.Background(), req.ID, true, "ops@example.com", "looks good")
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if resolved.Status != db.StatusApproved {
		t.Fatalf("Expected approved, got %s", resolved.Status)
	}
	if resolved.Reviewer == nil || *resolved.Reviewer != "ops@example.com" {
		t.Error("Expected reviewer recorded")
	}
	if resolved.ResolutionMethod == nil || *resolved.ResolutionMethod != db.MethodManual {
		t.Error("Expected manual resolution method")
	}

	events := enqueuer.events()
	if len(events) != 1 || events[0].eventType != webhooks.EventApprovalApproved {
		t.Fatalf("Expected one approval.approved webhook, got %+v", events)
	}
}

/* TestSubmitDecisionConflict verifies the second decision on the same
 * approval observes a conflict, not a silent overwrite */
func TestSubmitDecisionConflict(t *testing.T) {
	store := newMemoryStore()
	orch, enqueuer := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	if _, err := orch.SubmitDecision(context.Background(), req.ID, true, "first@example.com", ""); err != nil {
		t.Fatalf("First decision failed: %v", err)
	}
	if _, err := orch.SubmitDecision(context.Background(), req.ID, false, "second@example.com", ""); !errors.Is(err, ErrApprovalAlreadyProcessed) {
		t.Fatalf("Expected ErrApprovalAlreadyProcessed, got %v", err)
	}

	/* The losing decision must not mutate the row or emit a webhook */
	stored, _ := orch.GetApproval(context.Background(), req.ID)
	if stored.Status != db.StatusApproved || *stored.Reviewer != "first@example.com" {
		t.Error("Expected the winning decision to stand")
	}
	if len(enqueuer.events()) != 1 {
		t.Errorf("Expected exactly one webhook, got %d", len(enqueuer.events()))
	}
}

func TestSubmitDecisionNotFound(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	if _, err := orch.SubmitDecision(context.Background(), uuid.New(), true, "ops@example.com", ""); !errors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("Expected ErrApprovalNotFound, got %v", err)
	}
}

func TestEscalateKeepsResolvable(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	escalated, err := orch.Escalate(context.Background(), req.ID, "manager@example.com")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if escalated.Status != db.StatusEscalated || escalated.EscalationLevel != 1 {
		t.Fatalf("Expected escalated level 1, got %s level %d", escalated.Status, escalated.EscalationLevel)
	}

	/* Escalated approvals still accept decisions */
	resolved, err := orch.SubmitDecision(context.Background(), req.ID, false, "manager@example.com", "not a fit")
	if err != nil {
		t.Fatalf("Decision on escalated approval failed: %v", err)
	}
	if resolved.Status != db.StatusRejected {
		t.Fatalf("Expected rejected, got %s", resolved.Status)
	}
}

func TestEscalateTerminalConflicts(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())
	orch.SubmitDecision(context.Background(), req.ID, true, "ops@example.com", "")

	if _, err := orch.Escalate(context.Background(), req.ID, "manager@example.com"); !errors.Is(err, ErrApprovalAlreadyProcessed) {
		t.Fatalf("Expected ErrApprovalAlreadyProcessed, got %v", err)
	}
}

func TestBulkApprovePartialFailure(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	first, _ := orch.CreateRequest(context.Background(), createParams())
	second, _ := orch.CreateRequest(context.Background(), createParams())

	/* Resolve one up front so the bulk call sees a conflict */
	orch.SubmitDecision(context.Background(), second.ID, false, "ops@example.com", "")

	missing := uuid.New()
	result, err := orch.BulkApprove(context.Background(), []uuid.UUID{first.ID, second.ID, missing}, "lead@example.com", "batch")
	if err != nil {
		t.Fatalf("BulkApprove failed: %v", err)
	}

	if len(result.Resolved) != 1 || result.Resolved[0] != first.ID {
		t.Errorf("Expected only the pending approval to resolve, got %v", result.Resolved)
	}
	if len(result.Failed) != 2 {
		t.Errorf("Expected two per-id failures, got %v", result.Failed)
	}
	if _, ok := result.Failed[second.ID.String()]; !ok {
		t.Error("Expected the already-resolved approval among failures")
	}
	if _, ok := result.Failed[missing.String()]; !ok {
		t.Error("Expected the missing approval among failures")
	}

	/* The rejected approval keeps its original outcome */
	stored, _ := orch.GetApproval(context.Background(), second.ID)
	if stored.Status != db.StatusRejected {
		t.Errorf("Expected conflict to leave the rejection untouched, got %s", stored.Status)
	}
}

/* TestCheckTimeouts covers the deadline sweep: an overdue pending
 * approval becomes timeout with a timeout webhook */
func TestCheckTimeouts(t *testing.T) {
	store := newMemoryStore()
	orch, enqueuer := newTestOrchestrator(store)

	params := createParams()
	params.TimeoutMinutes = intPtr(0)
	req, _ := orch.CreateRequest(context.Background(), params)

	expired, err := orch.CheckTimeouts(context.Background())
	if err != nil {
		t.Fatalf("CheckTimeouts failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("Expected 1 expired approval, got %d", expired)
	}

	stored, _ := orch.GetApproval(context.Background(), req.ID)
	if stored.Status != db.StatusTimeout {
		t.Fatalf("Expected timeout status, got %s", stored.Status)
	}
	if stored.ResolutionMethod == nil || *stored.ResolutionMethod != db.MethodTimeout {
		t.Error("Expected timeout resolution method")
	}

	events := enqueuer.events()
	if len(events) != 1 || events[0].eventType != webhooks.EventApprovalTimeout {
		t.Fatalf("Expected one approval.timeout webhook, got %+v", events)
	}

	/* A second sweep finds nothing */
	expired, _ = orch.CheckTimeouts(context.Background())
	if expired != 0 {
		t.Errorf("Expected idempotent sweep, got %d expirations", expired)
	}
}

func TestCheckTimeoutsLeavesFutureDeadlines(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	expired, err := orch.CheckTimeouts(context.Background())
	if err != nil {
		t.Fatalf("CheckTimeouts failed: %v", err)
	}
	if expired != 0 {
		t.Fatalf("Expected no expirations, got %d", expired)
	}

	stored, _ := orch.GetApproval(context.Background(), req.ID)
	if stored.Status != db.StatusPending {
		t.Errorf("Expected pending to survive the sweep, got %s", stored.Status)
	}
}

/* TestConcurrentDecisionAndTimeout races a reviewer decision against the
 * timeout sweep on an overdue approval. Exactly one transition wins and
 * exactly one resolution webhook exists afterwards. */
func TestConcurrentDecisionAndTimeout(t *testing.T) {
	for round := 0; round < 20; round++ {
		store := newMemoryStore()
		orch, enqueuer := newTestOrchestrator(store)

		params := createParams()
		params.TimeoutMinutes = intPtr(0)
		req, _ := orch.CreateRequest(context.Background(), params)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			orch.SubmitDecision(context.Background(), req.ID, true, "ops@example.com", "")
		}()
		go func() {
			defer wg.Done()
			orch.CheckTimeouts(context.Background())
		}()
		wg.Wait()

		stored, _ := orch.GetApproval(context.Background(), req.ID)
		if stored.Status != db.StatusApproved && stored.Status != db.StatusTimeout {
			t.Fatalf("Expected a terminal state, got %s", stored.Status)
		}
		if events := enqueuer.events(); len(events) != 1 {
			t.Fatalf("Expected exactly one resolution webhook, got %d", len(events))
		}
	}
}

/* TestConcurrentReviewers races many decisions for the same approval.
 * Exactly one wins, every loser observes the conflict error. */
func TestConcurrentReviewers(t *testing.T) {
	store := newMemoryStore()
	orch, enqueuer := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	const reviewers = 8
	var wg sync.WaitGroup
	errs := make([]error, reviewers)
	wg.Add(reviewers)
	for i := 0; i < reviewers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.SubmitDecision(context.Background(), req.ID, i%2 == 0,
				fmt.Sprintf("reviewer%d@example.com", i), "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrApprovalAlreadyProcessed) {
			t.Fatalf("Expected conflict errors for losers, got %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("Expected exactly one winning decision, got %d", winners)
	}
	if events := enqueuer.events(); len(events) != 1 {
		t.Fatalf("Expected exactly one webhook, got %d", len(events))
	}
}

/* TestResendResolutionRecoversLostWebhook covers the recovery path for a
 * resolution whose webhook enqueue failed after the state transition
 * committed: the approval is terminal with zero deliveries, and the
 * resend produces the event that was lost */
func TestResendResolutionRecoversLostWebhook(t *testing.T) {
	store := newMemoryStore()
	orch, enqueuer := newTestOrchestrator(store)

	params := createParams()
	params.TimeoutMinutes = intPtr(0)
	req, _ := orch.CreateRequest(context.Background(), params)

	/* The expiry commits but the enqueue is lost */
	enqueuer.failNext = errors.New("delivery store unreachable")
	expired, err := orch.CheckTimeouts(context.Background())
	if err != nil {
		t.Fatalf("CheckTimeouts failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("Expected 1 expired approval, got %d", expired)
	}

	stored, _ := orch.GetApproval(context.Background(), req.ID)
	if stored.Status != db.StatusTimeout {
		t.Fatalf("Expected timeout status, got %s", stored.Status)
	}
	if len(enqueuer.events()) != 0 {
		t.Fatalf("Expected no webhook after the lost enqueue, got %d", len(enqueuer.events()))
	}

	deliveryID, err := orch.ResendResolution(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("ResendResolution failed: %v", err)
	}
	if deliveryID == uuid.Nil {
		t.Error("Expected a delivery id from the resend")
	}

	events := enqueuer.events()
	if len(events) != 1 || events[0].eventType != webhooks.EventApprovalTimeout {
		t.Fatalf("Expected one approval.timeout webhook after resend, got %+v", events)
	}
	if events[0].targetURL != req.ResumeURL {
		t.Errorf("Expected resend routed to the resume URL, got %s", events[0].targetURL)
	}
}

func TestResendResolutionRejectsUnresolved(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	req, _ := orch.CreateRequest(context.Background(), createParams())

	if _, err := orch.ResendResolution(context.Background(), req.ID); !errors.Is(err, ErrApprovalNotResolved) {
		t.Fatalf("Expected ErrApprovalNotResolved, got %v", err)
	}
	if _, err := orch.ResendResolution(context.Background(), uuid.New()); !errors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("Expected ErrApprovalNotFound, got %v", err)
	}
}

func TestEscalateDue(t *testing.T) {
	store := newMemoryStore()
	orch, _ := newTestOrchestrator(store)

	params := createParams()
	params.TimeoutMinutes = intPtr(30)
	soon, _ := orch.CreateRequest(context.Background(), params)

	params = createParams()
	params.TimeoutMinutes = intPtr(60 * 24)
	later, _ := orch.CreateRequest(context.Background(), params)

	escalated, err := orch.EscalateDue(context.Background(), time.Hour, "manager@example.com", 100)
	if err != nil {
		t.Fatalf("EscalateDue failed: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("Expected one escalation, got %d", escalated)
	}

	first, _ := orch.GetApproval(context.Background(), soon.ID)
	if first.Status != db.StatusEscalated {
		t.Errorf("Expected the near-deadline approval escalated, got %s", first.Status)
	}
	second, _ := orch.GetApproval(context.Background(), later.ID)
	if second.Status != db.StatusPending {
		t.Errorf("Expected the far-deadline approval untouched, got %s", second.Status)
	}
}

func TestGetStatistics(t *testing.T) {
	store := newMemoryStore()
	store.rules = []db.ApprovalRule{qualityRule(0.8, nil)}
	orch, _ := newTestOrchestrator(store)

	auto := createParams()
	auto.ResourceData["quality_score"] = 0.95
	orch.CreateRequest(context.Background(), auto)

	manualReq, _ := orch.CreateRequest(context.Background(), createParams())
	orch.SubmitDecision(context.Background(), manualReq.ID, false, "ops@example.com", "")

	orch.CreateRequest(context.Background(), createParams())

	stats, err := orch.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 3 || stats.Approved != 1 || stats.Rejected != 1 || stats.Pending != 1 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
	if stats.AutoResolved != 1 || stats.ManualResolved != 1 {
		t.Errorf("Unexpected resolution split: %+v", stats)
	}
	rate := stats.AutoResolutionRate()
	if rate < 0.33 || rate > 0.34 {
		t.Errorf("Expected auto-resolution rate 1/3, got %f", rate)
	}
}

func TestValidTransition(t *testing.T) {
	if !ValidTransition(db.StatusPending, db.StatusApproved) {
		t.Error("Expected pending -> approved to be valid")
	}
	if !ValidTransition(db.StatusEscalated, db.StatusTimeout) {
		t.Error("Expected escalated -> timeout to be valid")
	}
	for _, terminal := range []string{db.StatusApproved, db.StatusRejected, db.StatusTimeout} {
		for _, to := range []string{db.StatusPending, db.StatusEscalated, db.StatusApproved, db.StatusRejected, db.StatusTimeout} {
			if ValidTransition(terminal, to) {
				t.Errorf("Expected no transition out of %s, got %s allowed", terminal, to)
			}
		}
		if !IsTerminalStatus(terminal) {
			t.Errorf("Expected %s to be terminal", terminal)
		}
	}
}
