// Package worker implements transaction batching: buffering
// incoming transactions and sealing them into digest-addressed batches
// once a size or age threshold fires.
package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/narwhal/types"
)

// ErrQueueFull is returned by Submit when the buffer is at capacity; the
// caller is expected to apply backpressure.
var ErrQueueFull = errors.New("worker: queue full")

// Config configures a Worker's batch-sealing thresholds.
type Config struct {
	ID           uint32
	MaxBytes     int
	MaxTxs       int
	MaxAge       time.Duration
	MaxQueuedTxs int // backpressure limit; 0 means unbounded
}

// Worker buffers submitted transactions and seals them into batches.
type Worker struct {
	mu  sync.Mutex
	cfg Config
	log log.Logger

	pending      []types.Transaction
	pendingBytes int
	openedAt     time.Time

	sealed map[types.Digest]*types.Batch
}

// New creates a Worker.
func New(cfg Config, logger log.Logger) *Worker {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Worker{
		cfg:      cfg,
		log:      logger,
		openedAt: time.Now(),
		sealed:   make(map[types.Digest]*types.Batch),
	}
}

// Submit appends a transaction to the current buffer. It fails with
// ErrQueueFull if the buffer is saturated; no accepted transaction is ever
// silently dropped.
func (w *Worker) Submit(tx types.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.MaxQueuedTxs > 0 && len(w.pending) >= w.cfg.MaxQueuedTxs {
		return ErrQueueFull
	}
	w.pending = append(w.pending, tx)
	w.pendingBytes += len(tx.Payload) + len(tx.Metadata)
	return nil
}

// readyLocked reports whether the current buffer meets a size or age
// threshold. Must be called with w.mu held.
func (w *Worker) readyLocked() bool {
	if len(w.pending) == 0 {
		return false
	}
	if w.cfg.MaxTxs > 0 && len(w.pending) >= w.cfg.MaxTxs {
		return true
	}
	if w.cfg.MaxBytes > 0 && w.pendingBytes >= w.cfg.MaxBytes {
		return true
	}
	if w.cfg.MaxAge > 0 && time.Since(w.openedAt) >= w.cfg.MaxAge {
		return true
	}
	return false
}

// FormBatch closes the current buffer if it meets either threshold and
// returns the sealed batch and its digest. It returns (nil, Digest{},
// false) if neither threshold is met.
func (w *Worker) FormBatch() (*types.Batch, types.Digest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.readyLocked() {
		return nil, types.Digest{}, false
	}

	batch := &types.Batch{
		Worker:       w.cfg.ID,
		Transactions: w.pending,
		CreatedAt:    time.Now(),
	}
	digest := batch.Digest()

	w.pending = nil
	w.pendingBytes = 0
	w.openedAt = time.Now()
	w.sealed[digest] = batch

	w.log.Debug("batch sealed")
	return batch, digest, true
}

// Serve is an idempotent lookup for peer requests; it never mutates
// state.
func (w *Worker) Serve(digest types.Digest) (*types.Batch, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.sealed[digest]
	return b, ok
}

// Forget drops a sealed batch unconditionally; it does not check whether
// referencing certificates have committed.
func (w *Worker) Forget(digest types.Digest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sealed, digest)
}

// PendingCount returns the number of buffered, unsealed transactions.
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
