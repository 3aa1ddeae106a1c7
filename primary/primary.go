// Package primary implements the per-validator header/vote/certificate
// state machine: proposing a header once enough parent certificates
// exist, validating and voting on peer headers, collecting votes into a
// certificate, and advancing rounds. It composes worker, certbuilder,
// dagstore, signer, and transport behind a single mutex-guarded struct.
package primary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/narwhal/certbuilder"
	"github.com/luxfi/narwhal/dagstore"
	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/transport"
	"github.com/luxfi/narwhal/types"
	"github.com/luxfi/narwhal/worker"
)

const (
	kindHeaderVote = "narwhal/header-vote"
	kindCert       = "narwhal/certificate"
)

var (
	ErrRoundNotReady          = errors.New("primary: parent round lacks quorum certificates")
	ErrHeaderEquivocation     = errors.New("primary: a different header for this author/round was already accepted")
	ErrMissingHeaderParent    = errors.New("primary: header references an unknown parent certificate")
	ErrParentStakeBelowQuorum = errors.New("primary: header's parent authors hold less than quorum stake")
)

type authorRoundKey struct {
	author types.PublicKey
	round  uint64
}

// Primary is one validator's header/vote/certificate engine.
type Primary struct {
	mu sync.Mutex

	self      types.PublicKey
	committee *types.Committee
	sign      signer.Signer
	wk        *worker.Worker
	store     *dagstore.Store
	transport transport.Transport
	log       log.Logger

	round uint64

	// headers accepted per (author, round); nil entry would be a bug, the
	// map only ever holds at most one header per key (equivocating
	// headers are rejected, never overwritten).
	headers map[authorRoundKey]*types.Header

	// quarantine holds headers waiting on a missing parent certificate,
	// keyed by the missing parent's digest.
	quarantine map[types.Digest][]*types.Header

	// evidence records a second, conflicting header seen for an
	// (author, round) already accepted.
	evidence map[authorRoundKey][]types.Digest

	builders map[types.Digest]*certbuilder.Builder // in-flight, keyed by header digest
}

// New creates a Primary for self, wiring it to committee, signer, the
// local worker's batches, the DAG store, and a transport. It registers
// the transport handler for inbound header-vote requests and certificate
// broadcasts.
func New(self types.PublicKey, committee *types.Committee, sign signer.Signer, wk *worker.Worker, store *dagstore.Store, tp transport.Transport, logger log.Logger) *Primary {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	p := &Primary{
		self:       self,
		committee:  committee,
		sign:       sign,
		wk:         wk,
		store:      store,
		transport:  tp,
		log:        logger,
		headers:    make(map[authorRoundKey]*types.Header),
		quarantine: make(map[types.Digest][]*types.Header),
		evidence:   make(map[authorRoundKey][]types.Digest),
		builders:   make(map[types.Digest]*certbuilder.Builder),
	}
	tp.Handle(kindHeaderVote, p.handleHeaderVoteRequest)
	tp.Handle(kindCert, p.handleCertificateBroadcast)
	return p
}

// CurrentRound returns the round this Primary is currently proposing
// into.
func (p *Primary) CurrentRound() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

// Resume fast-forwards the Primary's round after recovery so the next
// proposal lands past everything already recovered.
func (p *Primary) Resume(r uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r > p.round {
		p.round = r
	}
}

// ReadyToAdvance reports whether round r has quorum stake worth of
// accepted certificates, the precondition for proposing round r+1.
func (p *Primary) ReadyToAdvance(r uint64) bool {
	var stake types.Stake
	for _, cert := range p.store.Round(r) {
		if member, ok := p.committee.Member(cert.Header.Author); ok {
			stake += member.Stake
		}
	}
	return stake >= p.committee.Quorum()
}

// ProposeHeader seals the current worker batch (if ready) and proposes a
// header for round r, built on parent certificates from round r-1. It
// requests a vote from every other committee member and, on reaching
// quorum, builds and inserts the resulting certificate, broadcasting it
// to the committee. ProposeHeader blocks until the round either commits
// a certificate or every peer has responded.
func (p *Primary) ProposeHeader(ctx context.Context, r uint64) (*types.Certificate, error) {
	if r > 0 && !p.ReadyToAdvance(r-1) {
		return nil, ErrRoundNotReady
	}

	_, batchDigest, ok := p.wk.FormBatch()
	if !ok {
		return nil, fmt.Errorf("primary: no sealed batch ready for round %d", r)
	}

	var parents []types.Digest
	if r > 0 {
		for _, cert := range p.store.Round(r - 1) {
			parents = append(parents, cert.Digest())
		}
	}

	h := types.Header{Author: p.self, Round: r, BatchDigest: batchDigest, Parents: parents, Timestamp: time.Now().UTC()}

	p.mu.Lock()
	builder := certbuilder.New(h, p.committee, p.sign)
	p.builders[h.Digest()] = builder
	p.round = r
	p.mu.Unlock()

	// Self-vote.
	headerDigest := h.Digest()
	selfSig, err := p.sign.Sign(p.self, headerDigest[:])
	if err == nil {
		_ = builder.AddVote(types.Vote{HeaderDigest: headerDigest, Voter: p.self, Signature: selfSig})
	}

	payload := types.EncodeHeader(&h)

	for _, member := range p.committee.Members() {
		if member.PublicKey == p.self {
			continue
		}
		resp, err := p.transport.Request(ctx, member.PublicKey, transport.Message{Kind: kindHeaderVote, Payload: payload})
		if err != nil {
			p.log.Debug("header vote request failed")
			continue
		}
		vote, err := types.DecodeVote(resp.Payload)
		if err != nil {
			continue
		}
		if err := builder.AddVote(*vote); err != nil {
			p.log.Debug("vote rejected")
		}
		if builder.HasQuorum() {
			break
		}
	}

	if !builder.HasQuorum() {
		return nil, ErrRoundNotReady
	}
	cert, err := builder.Build()
	if err != nil {
		return nil, err
	}
	if err := p.store.Insert(cert); err != nil {
		return nil, err
	}

	certPayload := types.EncodeCertificate(cert)
	_ = p.transport.Broadcast(ctx, transport.Message{Kind: kindCert, Payload: certPayload})
	return cert, nil
}

// handleHeaderVoteRequest validates a peer's proposed header and, if
// acceptable, returns a signed vote. It is the server side of
// ProposeHeader's header-vote request.
func (p *Primary) handleHeaderVoteRequest(ctx context.Context, from types.PublicKey, msg transport.Message) (transport.Message, error) {
	h, err := types.DecodeHeader(msg.Payload)
	if err != nil {
		return transport.Message{}, err
	}
	if err := p.processHeader(h); err != nil {
		return transport.Message{}, err
	}
	headerDigest := h.Digest()
	sig, err := p.sign.Sign(p.self, headerDigest[:])
	if err != nil {
		return transport.Message{}, err
	}
	vote := types.Vote{HeaderDigest: headerDigest, Voter: p.self, Signature: sig}
	payload := types.EncodeVote(&vote)
	return transport.Message{Kind: kindHeaderVote, Payload: payload}, nil
}

// handleCertificateBroadcast inserts a gossiped certificate into the
// local DAG store and re-evaluates any header quarantined on it.
func (p *Primary) handleCertificateBroadcast(ctx context.Context, from types.PublicKey, msg transport.Message) (transport.Message, error) {
	cert, err := types.DecodeCertificate(msg.Payload)
	if err != nil {
		return transport.Message{}, err
	}
	err = p.store.Insert(cert)
	switch {
	case err == nil:
		p.ResolveQuarantined(cert.Digest())
	case errors.Is(err, dagstore.ErrMissingParent):
	default:
		p.log.Debug("certificate rejected")
	}
	return transport.Message{}, nil
}

// ResolveQuarantined re-evaluates every header quarantined on the given
// parent certificate digest, the counterpart of the DAG store's own
// certificate-quarantine resolution. Callers invoke it after each newly
// accepted certificate; a header still missing another parent is simply
// re-quarantined under that digest.
func (p *Primary) ResolveQuarantined(parent types.Digest) {
	p.mu.Lock()
	waiting := p.quarantine[parent]
	delete(p.quarantine, parent)
	p.mu.Unlock()

	for _, h := range waiting {
		if err := p.processHeader(h); err != nil && !errors.Is(err, ErrMissingHeaderParent) {
			p.log.Debug("quarantined header rejected on re-evaluation")
		}
	}
}

// ProcessHeader is the exported entry point for feeding a header into
// this Primary outside of the transport handler path (used directly by
// tests and by sync catch-up).
func (p *Primary) ProcessHeader(h *types.Header) error {
	return p.processHeader(h)
}

func (p *Primary) processHeader(h *types.Header) error {
	if !p.committee.Has(h.Author) {
		return fmt.Errorf("primary: header author not in committee")
	}

	key := authorRoundKey{author: h.Author, round: h.Round}
	digest := h.Digest()

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.headers[key]; ok {
		if existing.Digest() != digest {
			p.evidence[key] = append(p.evidence[key], digest)
			return ErrHeaderEquivocation
		}
		return nil // idempotent re-delivery of the same header
	}

	if !h.IsGenesis() {
		seenAuthors := make(map[types.PublicKey]bool, len(h.Parents))
		var parentStake types.Stake
		for _, parent := range h.Parents {
			cert, ok := p.store.Get(parent)
			if !ok {
				p.quarantine[parent] = append(p.quarantine[parent], h)
				return ErrMissingHeaderParent
			}
			if !seenAuthors[cert.Header.Author] {
				seenAuthors[cert.Header.Author] = true
				if member, ok := p.committee.Member(cert.Header.Author); ok {
					parentStake += member.Stake
				}
			}
		}
		if parentStake < p.committee.Quorum() {
			return ErrParentStakeBelowQuorum
		}
	}

	p.headers[key] = h
	return nil
}

// Evidence returns every conflicting header digest observed for
// (author, round), beyond the first accepted one.
func (p *Primary) Evidence(author types.PublicKey, round uint64) []types.Digest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Digest(nil), p.evidence[authorRoundKey{author: author, round: round}]...)
}
