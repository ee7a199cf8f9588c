/*-------------------------------------------------------------------------
 *
 * sweeper.go
 *    Background loops for timeout expiry and deadline escalation
 *
 * Both loops are fixed-interval tickers over set-based orchestrator
 * operations. Because expiry and escalation are storage-layer CAS
 * updates, running multiple replicas is safe: each row transitions at
 * most once regardless of how many sweepers observe it.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/approval/sweeper.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"sync"
	"time"

	"github.com/outreachforge/approvald/internal/metrics"
)

const escalationBatchSize = 100

type Sweeper struct {
	orch           *Orchestrator
	interval       time.Duration
	escalationLead time.Duration
	escalateTo     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

/* NewSweeper creates a sweeper. A zero escalationLead or empty
 * escalateTo disables the escalation pass; timeout expiry always runs. */
func NewSweeper(orch *Orchestrator, interval, escalationLead time.Duration, escalateTo string) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		orch:           orch,
		interval:       interval,
		escalationLead: escalationLead,
		escalateTo:     escalateTo,
		ctx:            ctx,
		cancel:         cancel,
	}
}

/* Start launches the sweep loop */
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()

	metrics.InfoWithContext(context.Background(), "approval sweeper started", map[string]interface{}{
		"interval":           s.interval.String(),
		"escalation_lead":    s.escalationLead.String(),
		"escalation_enabled": s.escalationEnabled(),
	})
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	/* Escalate first so an approval inside the lead window gets its
	 * nudge before the same sweep can expire it. */
	if s.escalationEnabled() {
		if _, err := s.orch.EscalateDue(ctx, s.escalationLead, s.escalateTo, escalationBatchSize); err != nil {
			metrics.ErrorWithContext(ctx, "escalation sweep failed", err, nil)
		}
	}

	if _, err := s.orch.CheckTimeouts(ctx); err != nil {
		metrics.ErrorWithContext(ctx, "timeout sweep failed", err, nil)
	}
}

func (s *Sweeper) escalationEnabled() bool {
	return s.escalationLead > 0 && s.escalateTo != ""
}

/* Stop halts the loop and waits for an in-flight sweep to finish */
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	metrics.InfoWithContext(context.Background(), "approval sweeper stopped", nil)
}
