// Package node is the composition root for one validator's consensus
// core: it owns the worker, primary, DAG store, reputation manager,
// Shoal commit engine, ordering engine, and persistence store, and wires
// them together with bounded channels instead of direct cross-component
// calls. Every component holds a reference to the DAG; the DAG never
// holds a back-reference to any of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/narwhal/config"
	"github.com/luxfi/narwhal/dagstore"
	"github.com/luxfi/narwhal/metrics"
	"github.com/luxfi/narwhal/ordering"
	"github.com/luxfi/narwhal/primary"
	"github.com/luxfi/narwhal/reputation"
	"github.com/luxfi/narwhal/shoal"
	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/storage"
	narwhalsync "github.com/luxfi/narwhal/sync"
	"github.com/luxfi/narwhal/transport"
	"github.com/luxfi/narwhal/types"
	"github.com/luxfi/narwhal/worker"
)

// ExecutionSink is the out-of-scope execution collaborator: the
// core hands it an ordered transaction sequence per committed anchor
// round and never inspects what happens to it.
type ExecutionSink interface {
	Deliver(ctx context.Context, anchorRound uint64, txs []types.Transaction) error
}

// certEvent carries a newly-accepted certificate from insertion to the
// consensus task over a bounded channel.
type certEvent struct {
	cert *types.Certificate
}

// Node owns one validator's full pipeline: worker -> primary -> dagstore
// -> persistence + consensus -> ordering -> execution sink.
type Node struct {
	self      types.PublicKey
	committee *types.Committee
	cfg       config.Config
	log       log.Logger
	metrics   *metrics.Set

	Worker     *worker.Worker
	Primary    *primary.Primary
	DAG        *dagstore.Store
	Rep        *reputation.Manager
	Commit     *shoal.Engine
	Store      *storage.Store
	SyncClient *narwhalsync.Client

	sink ExecutionSink

	certEvents chan certEvent

	// committed is the full committed-certificate-digest set, distinct from shoal.Engine's
	// round-to-anchor map: it also covers every certificate pulled in as
	// causal history, so a later anchor's backward walk never re-emits an
	// already-delivered certificate.
	mu                sync.Mutex
	committed         map[types.Digest]bool
	nextCheckpointAt  uint64
	maxCommittedRound uint64
	anyCommitted      bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires a complete Node for self out of its collaborators. tp and kv
// are the pluggable transport and storage collaborators; sign
// is the pluggable signature collaborator; sink is where committed
// transaction sequences are delivered.
func New(
	self types.PublicKey,
	committee *types.Committee,
	cfg config.Config,
	sign signer.Signer,
	tp transport.Transport,
	kv storage.KV,
	sink ExecutionSink,
	metricsSet *metrics.Set,
	logger log.Logger,
) *Node {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	wk := worker.New(cfg.Worker, logger)
	dag := dagstore.New(committee, sign, logger)
	rep := reputation.New(cfg.Reputation)
	commitEngine := shoal.New(cfg.Shoal, committee, dag, rep, logger)
	store := storage.New(kv, logger)
	prim := primary.New(self, committee, sign, wk, dag, tp, logger)
	syncClient := narwhalsync.New(cfg.Sync, self, dag, tp, logger)
	syncClient.SetBatchSource(workerThenStore{wk, store})
	if metricsSet != nil {
		syncClient.SetServeHook(metricsSet.SyncRequestsServed.Inc)
	}
	syncClient.ServeRequests()

	return &Node{
		self:             self,
		committee:        committee,
		cfg:              cfg,
		log:              logger,
		metrics:          metricsSet,
		Worker:           wk,
		Primary:          prim,
		DAG:              dag,
		Rep:              rep,
		Commit:           commitEngine,
		Store:            store,
		SyncClient:       syncClient,
		sink:             sink,
		certEvents:       make(chan certEvent, 4096),
		committed:        make(map[types.Digest]bool),
		nextCheckpointAt: cfg.CheckpointInterval,
	}
}

// Start launches the consensus task that consumes inserted certificates
// and drives commit/ordering/delivery. It returns immediately; Stop
// drains and halts it.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.wg.Add(1)
	go n.consensusLoop(ctx)
}

// Stop cancels the consensus task and waits for it to drain its pending
// channel up to a bounded wait.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		n.log.Warn("node: consensus task did not drain within shutdown window")
	}
}

// ProposeRound drives this validator's Primary through round r — sealing
// a batch, collecting votes, assembling a certificate — and, on success,
// forwards the resulting certificate through IngestCertificate so the
// proposer's own consensus pipeline observes it the same way a peer's
// broadcast does.
func (n *Node) ProposeRound(ctx context.Context, r uint64) (*types.Certificate, error) {
	start := time.Now()
	cert, err := n.Primary.ProposeHeader(ctx, r)
	if n.metrics != nil {
		n.metrics.RoundDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.HeadersProposed.Inc()
		n.metrics.VotesCollected.Add(float64(len(cert.Signers)))
		n.metrics.CertificatesBuilt.Inc()
	}
	if err := n.IngestCertificate(cert); err != nil {
		return cert, err
	}
	return cert, nil
}

// SyncCatchUpRange drives SyncClient.CatchUpRange against peer, counting
// the attempt and any failure.
func (n *Node) SyncCatchUpRange(ctx context.Context, peer types.PublicKey, start, end uint64) error {
	if n.metrics != nil {
		n.metrics.SyncRequests.Inc()
	}
	err := n.SyncClient.CatchUpRange(ctx, peer, start, end)
	if err != nil && n.metrics != nil {
		n.metrics.SyncFailures.Inc()
	}
	return err
}

// IngestCertificate validates, inserts, persists, and forwards cert to
// the consensus task, in that order: a certificate reaches the consensus
// engine only after it is in the DAG and its write has been attempted.
// A MissingParent error is non-fatal: the certificate is
// quarantined in the DAG store and the sync client is expected to be
// separately driven to fetch the gap.
func (n *Node) IngestCertificate(cert *types.Certificate) error {
	if err := n.DAG.Insert(cert); err != nil {
		if n.metrics != nil {
			n.metrics.CertificatesRejected.WithLabelValues(rejectReason(err)).Inc()
			if errors.Is(err, dagstore.ErrEquivocation) {
				n.metrics.Equivocations.Inc()
			}
		}
		return err
	}
	if n.metrics != nil {
		n.metrics.DAGRound.Set(float64(n.DAG.HighestRound()))
	}
	n.Primary.ResolveQuarantined(cert.Digest())
	n.Rep.RecordParticipation(cert.Author(), true)

	if err := n.Store.PersistCertificate(cert); err != nil {
		// Non-blocking: log and continue from in-memory state. The write
		// is attempted again if the certificate becomes part of a
		// committed set delivered by deliverAnchor.
		n.log.Warn("node: persist certificate failed")
	}

	select {
	case n.certEvents <- certEvent{cert: cert}:
	default:
		n.log.Warn("node: consensus queue full, dropping forward for this certificate")
	}
	return nil
}

// rejectReason maps a DAG insertion error to a bounded metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, dagstore.ErrMissingParent):
		return "missing_parent"
	case errors.Is(err, dagstore.ErrEquivocation):
		return "equivocation"
	case errors.Is(err, dagstore.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, dagstore.ErrNotInCommittee):
		return "not_in_committee"
	case errors.Is(err, dagstore.ErrInsufficientParentStake):
		return "insufficient_stake"
	case errors.Is(err, dagstore.ErrMalformedCertificate):
		return "malformed"
	default:
		return "other"
	}
}

// consensusLoop is the single task that owns commit-rule evaluation and
// output delivery, so anchor commits and checkpoints never race with
// each other.
func (n *Node) consensusLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			n.drainPending()
			return
		case ev, ok := <-n.certEvents:
			if !ok {
				return
			}
			n.onCertificate(ctx, ev.cert)
		}
	}
}

// drainPending flushes whatever is already queued before shutdown
// completes, without blocking on new arrivals.
func (n *Node) drainPending() {
	for {
		select {
		case ev := <-n.certEvents:
			n.onCertificate(context.Background(), ev.cert)
		default:
			return
		}
	}
}

// onCertificate evaluates every round up to and including cert's round
// as a candidate anchor round, delivering any newly committed causal
// history to the execution sink.
func (n *Node) onCertificate(ctx context.Context, cert *types.Certificate) {
	for r := uint64(0); r <= cert.Round(); r++ {
		if n.Commit.IsCommitted(r) {
			continue
		}
		anchors, ok := n.Commit.TryCommit(r)
		if !ok {
			continue
		}
		n.recordCommitProgress(r)
		if n.metrics != nil {
			n.metrics.AnchorsCommitted.Add(float64(len(anchors)))
			n.metrics.CommittedRound.Set(float64(r))
		}
		for _, anchorDigest := range anchors {
			if err := n.deliverAnchor(ctx, anchorDigest); err != nil {
				n.log.Warn("node: delivering committed anchor failed")
			}
		}
		n.maybeCheckpoint(r)
	}
}

// recordCommitProgress advances the committed-round high-water mark and
// counts the rounds newly passed over without an anchor of their own:
// the backfill inside TryCommit has already committed every earlier
// round this anchor causally reaches, so what remains uncommitted below
// r was skipped.
func (n *Node) recordCommitProgress(r uint64) {
	n.mu.Lock()
	start := n.maxCommittedRound + 1
	if !n.anyCommitted {
		start = 0
		n.anyCommitted = true
	}
	if r > n.maxCommittedRound {
		n.maxCommittedRound = r
	}
	n.mu.Unlock()

	if n.metrics == nil {
		return
	}
	for q := start; q < r; q++ {
		if !n.Commit.IsCommitted(q) {
			n.metrics.AnchorsSkipped.Inc()
		}
	}
}

// deliverAnchor expands anchorDigest into its not-yet-committed causal
// history, linearizes it deterministically, extracts transactions, and
// hands them to the execution sink, labeled by the anchor round that
// produced them.
func (n *Node) deliverAnchor(ctx context.Context, anchorDigest types.Digest) error {
	anchor, ok := n.DAG.Get(anchorDigest)
	if !ok {
		return fmt.Errorf("node: committed anchor %s absent from DAG", anchorDigest)
	}

	n.mu.Lock()
	history := n.DAG.CausalHistory(anchorDigest, n.committed)
	set := append(history, anchor)
	for _, c := range set {
		n.committed[c.Digest()] = true
	}
	n.mu.Unlock()

	ordered, err := ordering.Sort(set)
	if err != nil {
		return fmt.Errorf("node: ordering committed set for anchor %s: %w", anchorDigest, err)
	}
	// Fetch from its author, and persist, every batch not held locally.
	provider := n.batchProvider()
	for _, c := range ordered {
		if _, ok := provider.Serve(c.Header.BatchDigest); ok || c.Author() == n.self {
			continue
		}
		fetched, err := n.SyncClient.FetchBatches(ctx, c.Author(), []types.Digest{c.Header.BatchDigest})
		if err != nil {
			n.log.Warn("node: fetching committed batch failed")
			continue
		}
		for _, b := range fetched {
			if err := n.Store.PersistBatch(b); err != nil {
				n.log.Warn("node: persisting fetched batch failed")
			}
		}
	}
	txs, err := ordering.ExtractTransactions(ordered, provider)
	if err != nil {
		return fmt.Errorf("node: extracting transactions for anchor %s: %w", anchorDigest, err)
	}

	for _, c := range ordered {
		if err := n.Store.PersistCertificate(c); err != nil {
			n.log.Warn("node: persisting committed certificate failed")
		}
	}
	if err := n.Store.MarkCommitted(anchor.Round(), anchorDigest); err != nil {
		n.log.Warn("node: marking anchor committed in storage failed")
	}

	if n.sink == nil {
		return nil
	}
	return n.sink.Deliver(ctx, anchor.Round(), txs)
}

// batchProvider resolves a committed certificate's batch first from the
// local worker (the common case for the certificate's own author) and
// falls back to the persisted store, the way a validator serves its own
// just-sealed batches without a storage round-trip.
func (n *Node) batchProvider() ordering.BatchProvider { return workerThenStore{n.Worker, n.Store} }

type workerThenStore struct {
	w *worker.Worker
	s *storage.Store
}

func (p workerThenStore) Serve(digest types.Digest) (*types.Batch, bool) {
	if b, ok := p.w.Serve(digest); ok {
		return b, ok
	}
	return p.s.Serve(digest)
}

// maybeCheckpoint writes a checkpoint once committedRound reaches the
// next configured boundary.
func (n *Node) maybeCheckpoint(committedRound uint64) {
	n.mu.Lock()
	due := n.cfg.CheckpointInterval > 0 && committedRound >= n.nextCheckpointAt
	if due {
		n.nextCheckpointAt = committedRound + n.cfg.CheckpointInterval
	}
	n.mu.Unlock()
	if !due {
		return
	}

	start := time.Now()
	certs, err := n.Store.AllCertificates()
	if err != nil {
		n.log.Warn("node: checkpoint: loading certificates failed")
		return
	}
	snap := storage.Snapshot{
		Round:             committedRound,
		Certificates:      certs,
		CommittedAnchors:  n.Commit.CommittedAnchors(),
		ReputationWindows: n.Rep.Snapshot(),
	}
	if err := n.Store.Checkpoint(snap); err != nil {
		n.log.Warn("node: checkpoint write failed")
	}
	if n.metrics != nil {
		n.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	}
}

// Recover rebuilds this node's DAG, reputation, and commit-engine state
// from persisted storage using strategy, then fast-forwards Primary's
// round to resume proposing past whatever was recovered.
func (n *Node) Recover(strategy storage.RecoveryStrategy) (*storage.RecoveryReport, error) {
	report, err := n.Store.Recover(strategy, n.DAG, n.Rep, n.Commit)
	if err != nil {
		return report, err
	}
	n.mu.Lock()
	for _, anchorDigest := range n.Commit.CommittedAnchors() {
		history := n.DAG.CausalHistory(anchorDigest, n.committed)
		for _, c := range history {
			n.committed[c.Digest()] = true
		}
		n.committed[anchorDigest] = true
	}
	n.mu.Unlock()
	n.Primary.Resume(n.DAG.HighestRound())
	return report, nil
}

// Status is the one non-protocol read path every operator tool needs:
// current round, highest known round, last committed round, number of
// committed certificates, and pending quarantine count.
type Status struct {
	CurrentRound       uint64
	HighestKnownRound  uint64
	LastCommittedRound uint64
	CommittedCount     int
	PendingQuarantine  int
}

func (n *Node) Status() Status {
	var lastCommitted uint64
	for r := range n.Commit.CommittedAnchors() {
		if r > lastCommitted {
			lastCommitted = r
		}
	}
	n.mu.Lock()
	committedCount := len(n.committed)
	n.mu.Unlock()

	return Status{
		CurrentRound:       n.Primary.CurrentRound(),
		HighestKnownRound:  n.DAG.HighestRound(),
		LastCommittedRound: lastCommitted,
		CommittedCount:     committedCount,
		PendingQuarantine:  n.DAG.QuarantineCount(),
	}
}
