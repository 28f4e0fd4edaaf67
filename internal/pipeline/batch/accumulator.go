package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one drained batch. Invocations are strictly sequential:
// the accumulator never hands off a new batch while a previous one is still
// being processed.
type Handler[T any] func(ctx context.Context, batch []T)

// Accumulator collects items into bounded batches and flushes them either
// when the batch reaches MaxSize or when Timeout elapses, whichever happens
// first. All mutation of the pending batch happens under a single mutex.
type Accumulator[T any] struct {
	mu      sync.Mutex
	pending []T
	ready   chan struct{}

	maxSize int
	timeout time.Duration
	handler Handler[T]
	logger  *slog.Logger
}

// New creates an accumulator. maxSize and timeout must be positive.
func New[T any](maxSize int, timeout time.Duration, handler Handler[T], logger *slog.Logger) *Accumulator[T] {
	return &Accumulator[T]{
		pending: make([]T, 0, maxSize),
		ready:   make(chan struct{}, 1),
		maxSize: maxSize,
		timeout: timeout,
		handler: handler,
		logger:  logger,
	}
}

// Offer appends an item to the current batch. When the batch reaches maxSize
// the ready signal fires so the run loop flushes without waiting for the
// timeout.
func (a *Accumulator[T]) Offer(item T) {
	a.mu.Lock()
	a.pending = append(a.pending, item)
	full := len(a.pending) >= a.maxSize
	a.mu.Unlock()

	if full {
		select {
		case a.ready <- struct{}{}:
		default: // signal already pending
		}
	}
}

// Run drives the flush loop until ctx is canceled. A timeout with an empty
// batch is a no-op; the loop simply re-waits.
func (a *Accumulator[T]) Run(ctx context.Context) {
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Batch accumulator stopped - context canceled")
			return

		case <-a.ready:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

		case <-timer.C:
		}

		batch := a.swap()
		if len(batch) > 0 {
			a.logger.Debug("Flushing batch",
				slog.Int("batch_size", len(batch)),
			)
			a.handler(ctx, batch)
		}

		timer.Reset(a.timeout)
	}
}

// swap atomically replaces the pending batch with an empty one and clears any
// stale ready signal, so no item can ever appear in two batches.
func (a *Accumulator[T]) swap() []T {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.pending
	a.pending = make([]T, 0, a.maxSize)

	select {
	case <-a.ready:
	default:
	}

	return batch
}

// Len reports the number of items waiting in the current batch
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
