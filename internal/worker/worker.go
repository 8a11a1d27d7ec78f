// Package worker runs the pool of goroutines that drain the Job Queue's
// lanes and hand each Delivery to the Execution Engine. It replaces the
// teacher's SQS-polling execution worker: there is no execution table to
// poll, no message envelope to unmarshal, and no per-execution claim
// query, because internal/jobqueue already gives at-least-once delivery
// with receipts, and internal/engine.Engine.ProcessDelivery already acks
// every delivery against the same queue.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorax/gorax/internal/engine"
	"github.com/gorax/gorax/internal/jobqueue"
)

// Worker drains a fixed set of lanes from a Queue, handing each Delivery
// to the Engine for processing.
type Worker struct {
	engine      *engine.Engine
	queue       jobqueue.Queue
	lanes       []string
	concurrency int
	logger      *slog.Logger

	wg             sync.WaitGroup
	activeJobs     atomic.Int32
	processedTotal atomic.Int64
	failedTotal    atomic.Int64
}

// New creates a Worker that will consume the given lanes, concurrency
// goroutines per lane, once Start is called.
func New(eng *engine.Engine, queue jobqueue.Queue, lanes []string, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if len(lanes) == 0 {
		lanes = []string{jobqueue.DefaultLane}
	}
	return &Worker{
		engine:      eng,
		queue:       queue,
		lanes:       lanes,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches concurrency goroutines per lane and blocks until ctx is
// canceled or the queue is closed.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting worker pool", "lanes", w.lanes, "concurrency_per_lane", w.concurrency)

	for _, lane := range w.lanes {
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go w.processLoop(ctx, lane, i)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) processLoop(ctx context.Context, lane string, workerID int) {
	defer w.wg.Done()
	w.logger.Info("lane worker started", "lane", lane, "worker_id", workerID)

	for {
		delivery, err := w.queue.Dequeue(ctx, lane)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jobqueue.ErrClosed) {
				w.logger.Info("lane worker stopping", "lane", lane, "worker_id", workerID)
				return
			}
			w.logger.Error("dequeue failed", "lane", lane, "error", err)
			continue
		}

		w.activeJobs.Add(1)
		if err := w.engine.ProcessDelivery(ctx, delivery); err != nil {
			w.failedTotal.Add(1)
			w.logger.Error("delivery processing failed",
				"lane", lane, "run_id", delivery.Job.RunID, "node_id", delivery.Job.NodeID, "error", err)
		} else {
			w.processedTotal.Add(1)
		}
		w.activeJobs.Add(-1)
	}
}

// Wait blocks until every lane goroutine has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) getActiveJobs() int32 {
	return w.activeJobs.Load()
}

func (w *Worker) getProcessedCount() int64 {
	return w.processedTotal.Load()
}

func (w *Worker) getFailedCount() int64 {
	return w.failedTotal.Load()
}
