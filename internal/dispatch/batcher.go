// Package dispatch delivers event records to the store in bounded batches
// with a backpressure valve against unbounded queue growth.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/metrics"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

// sendConcurrency bounds how many store writes a flush runs at once.
const sendConcurrency = 10

// Batcher queues outgoing event records and flushes them in bounded chunks.
// Delivery is at-least-once best-effort: a failed send is logged and the
// record dropped, never retried or re-queued.
type Batcher struct {
	store     store.Store
	logger    *slog.Logger
	enabled   bool
	batchSize int
	hardLimit int

	mu    sync.Mutex
	queue []store.Record

	inflight sync.WaitGroup
}

// NewBatcher creates a Batcher configured from cfg.
func NewBatcher(cfg *config.Config, st store.Store, logger *slog.Logger) *Batcher {
	return &Batcher{
		store:     st,
		logger:    logger,
		enabled:   cfg.BatchingEnabled,
		batchSize: cfg.BatchSize,
		hardLimit: cfg.BatchQueueHardLimit,
	}
}

// Enqueue queues an event record for delivery. With batching disabled the
// record is sent immediately, fire-and-forget. Reaching the configured batch
// size triggers a background flush; reaching the hard safety ceiling forces
// a synchronous flush so the queue never exceeds it.
func (b *Batcher) Enqueue(event store.Record) {
	if !b.enabled {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.send(context.Background(), event)
		}()
		return
	}

	b.mu.Lock()
	b.queue = append(b.queue, event)
	size := len(b.queue)
	b.mu.Unlock()

	switch {
	case size >= b.hardLimit:
		// Backpressure valve: the timer or a previous flush is not keeping
		// up, drain on the caller's goroutine.
		b.Flush(context.Background())
	case size == b.batchSize:
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.Flush(context.Background())
		}()
	}
}

// Flush drains the queue atomically and sends everything in bounded
// concurrent chunks. Every send is attempted independently; one failure
// neither cancels nor retries the others.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	drained := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	metrics.BatchesFlushed.Inc()

	g := &errgroup.Group{}
	g.SetLimit(sendConcurrency)
	for _, event := range drained {
		g.Go(func() error {
			b.send(ctx, event)
			return nil
		})
	}
	g.Wait()
}

// Close performs a final synchronous flush and waits for all outstanding
// sends.
func (b *Batcher) Close(ctx context.Context) {
	b.Flush(ctx)
	b.inflight.Wait()
}

// Len returns the current queue size; intended for tests.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Batcher) send(ctx context.Context, event store.Record) {
	if _, err := b.store.Create(ctx, store.CollectionEvents, event); err != nil {
		metrics.SendFailures.Inc()
		b.logger.Error("Failed to deliver event, dropping it",
			slog.String("session_id", event.String("session_id")),
			slog.Any("error", err))
	}
}
