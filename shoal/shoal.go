// Package shoal implements Shoal-style anchor selection and commit rules
// on top of the DAG store: picking each round's anchor from
// the reputation-weighted leader schedule, the direct 2f+1 commit rule,
// and causal (indirect) commit of earlier anchors reachable from a newly
// committed one. A block-ingress collaborator, if an integrator adds
// one, must never influence the commit order derived here.
package shoal

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/luxfi/log"
	"github.com/luxfi/narwhal/dagstore"
	"github.com/luxfi/narwhal/reputation"
	"github.com/luxfi/narwhal/types"
)

// Config controls the anchor responsiveness window.
type Config struct {
	// ResponsivenessWindow is how many rounds past the leader's round we
	// wait for its certificate before falling back to an alternate leader.
	ResponsivenessWindow uint64
}

func DefaultConfig() Config {
	return Config{ResponsivenessWindow: 1}
}

// Engine tracks which anchors have been committed and derives newly
// committable anchors as rounds close.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	committee *types.Committee
	store     *dagstore.Store
	rep       *reputation.Manager
	log       log.Logger

	// committed maps an anchor round to its committed certificate digest.
	committed map[uint64]types.Digest
}

func New(cfg Config, committee *types.Committee, store *dagstore.Store, rep *reputation.Manager, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Engine{cfg: cfg, committee: committee, store: store, rep: rep, log: logger, committed: make(map[uint64]types.Digest)}
}

// anchorCandidate returns the certificate this Engine considers the
// anchor for round r: the reputation-weighted leader's own certificate if
// present, else, once the DAG has reached round r+ResponsivenessWindow,
// the fallback leader's certificate if present, else nothing (round r is
// skipped as an anchor round).
func (e *Engine) anchorCandidate(r uint64) (*types.Certificate, bool) {
	leader := e.rep.Leader(e.committee, r)
	if cert, ok := e.store.AuthorAt(leader, r); ok {
		return cert, true
	}
	if e.store.HighestRound() < r+e.cfg.ResponsivenessWindow {
		return nil, false
	}
	fallback := e.rep.FallbackLeader(e.committee, r)
	if cert, ok := e.store.AuthorAt(fallback, r); ok {
		return cert, true
	}
	return nil, false
}

// directCommitSupport returns the stake, among certificates at round r+1,
// held by authors whose certificate causally references (has a path to)
// anchor.
func (e *Engine) directCommitSupport(anchor *types.Certificate) types.Stake {
	var stake types.Stake
	anchorDigest := anchor.Digest()
	for _, cert := range e.store.Round(anchor.Round() + 1) {
		if !e.store.HasPath(cert.Digest(), anchorDigest) {
			continue
		}
		if member, ok := e.committee.Member(cert.Header.Author); ok {
			stake += member.Stake
		}
	}
	return stake
}

// TryCommit evaluates round r as a candidate anchor round. It returns the
// full set of anchor digests newly committed by this call in causal
// order — earlier, not-yet-committed anchors reached causally from the
// new anchor first, then the anchor itself — or false if round r's
// anchor cannot yet be committed.
func (e *Engine) TryCommit(r uint64) ([]types.Digest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, already := e.committed[r]; already {
		return nil, false
	}

	anchor, ok := e.anchorCandidate(r)
	if !ok {
		return nil, false
	}
	if e.directCommitSupport(anchor) < e.committee.Quorum() {
		return nil, false
	}

	e.committed[r] = anchor.Digest()
	e.log.Info("anchor committed")

	out := e.commitCausalHistory(r, anchor)
	out = append(out, anchor.Digest())
	return out, true
}

// commitCausalHistory walks backward from a newly committed anchor,
// committing any earlier anchor round whose certificate is a causal
// ancestor of the new anchor and has not already been committed. The
// result is in causal order,
// earliest round first, so callers deliver each backfilled anchor's own
// history before the anchor that subsumed it.
func (e *Engine) commitCausalHistory(fromRound uint64, anchor *types.Certificate) []types.Digest {
	var backwards []types.Digest
	for r := fromRound; r > 0; r-- {
		priorRound := r - 1
		if _, done := e.committed[priorRound]; done {
			continue
		}
		priorAnchor, ok := e.anchorCandidateLocked(priorRound)
		if !ok {
			continue
		}
		if !e.store.HasPath(anchor.Digest(), priorAnchor.Digest()) {
			continue
		}
		e.committed[priorRound] = priorAnchor.Digest()
		backwards = append(backwards, priorAnchor.Digest())
	}
	for i, j := 0, len(backwards)-1; i < j; i, j = i+1, j-1 {
		backwards[i], backwards[j] = backwards[j], backwards[i]
	}
	return backwards
}

func (e *Engine) anchorCandidateLocked(r uint64) (*types.Certificate, bool) {
	return e.anchorCandidate(r)
}

// CommittedAnchors returns every round => anchor digest committed so far.
func (e *Engine) CommittedAnchors() map[uint64]types.Digest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.committed)
}

// IsCommitted reports whether round r's anchor has been committed.
func (e *Engine) IsCommitted(r uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.committed[r]
	return ok
}

// Restore replaces the committed-anchor set with one loaded from a
// checkpoint during recovery.
func (e *Engine) Restore(committed map[uint64]types.Digest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed = maps.Clone(committed)
	if e.committed == nil {
		e.committed = make(map[uint64]types.Digest)
	}
}
