/*-------------------------------------------------------------------------
 *
 * dispatcher.go
 *    Pull-based worker pool for webhook deliveries
 *
 * Workers poll the queue on a fixed interval; the claim statement is
 * atomic, so workers (and replicas) never send the same attempt twice.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/webhooks/dispatcher.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/outreachforge/approvald/internal/metrics"
)

type Dispatcher struct {
	queue     *Queue
	workers   int
	batchSize int
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

/* NewDispatcher creates a webhook dispatcher */
func NewDispatcher(queue *Queue, workers, batchSize int, interval time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:     queue,
		workers:   workers,
		batchSize: batchSize,
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

/* Start starts the delivery workers */
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			result, err := d.queue.ProcessBatch(d.ctx, d.batchSize)
			if err != nil {
				metrics.ErrorWithContext(d.ctx, "Webhook batch processing failed", err, nil)
				continue
			}
			if result.Processed > 0 || result.Failed > 0 {
				metrics.DebugWithContext(d.ctx, "Webhook batch processed", map[string]interface{}{
					"processed": result.Processed,
					"failed":    result.Failed,
					"deferred":  result.Deferred,
				})
			}
		}
	}
}

/* Stop stops the workers and waits for in-flight batches */
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}
