package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/queue"
)

// QueueConsumer starts deliveries flowing to a handler. Satisfied by
// the queue client.
type QueueConsumer interface {
	Consume(ctx context.Context, handler queue.Handler) error
}

// WorkerPool runs n concurrent consumers over the orders queue, each
// processing one delivery at a time.
type WorkerPool struct {
	orchestrator *Orchestrator
	log          *slog.Logger
}

// NewWorkerPool creates a pool around the orchestrator.
func NewWorkerPool(o *Orchestrator, log *slog.Logger) *WorkerPool {
	if log == nil {
		log = slog.Default()
	}
	return &WorkerPool{orchestrator: o, log: log}
}

// Start launches workers consumers. Each consumer prefetches a single
// message, so the pool's concurrency equals the consumer count.
func (w *WorkerPool) Start(ctx context.Context, q QueueConsumer, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		if err := q.Consume(ctx, w.orchestrator.Handle); err != nil {
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
	}
	w.log.Info("worker pool started", "workers", workers)
	return nil
}
