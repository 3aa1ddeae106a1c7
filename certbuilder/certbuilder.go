// Package certbuilder accumulates votes for a single header until their
// combined stake meets quorum, then assembles a Certificate: a
// mutex-guarded map of per-voter state plus a running weight total.
package certbuilder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/types"
)

var (
	// ErrNotInCommittee is returned when a vote's voter is not a member of
	// the committee.
	ErrNotInCommittee = errors.New("certbuilder: voter not in committee")
	// ErrDuplicateVote is returned when the same voter votes twice for the
	// same header.
	ErrDuplicateVote = errors.New("certbuilder: duplicate vote")
	// ErrNotReady is returned by Build before quorum stake is reached.
	ErrNotReady = errors.New("certbuilder: quorum not yet reached")
	// ErrInvalidSignature is returned when a vote's signature fails to
	// verify against the claimed voter's committee key.
	ErrInvalidSignature = errors.New("certbuilder: invalid vote signature")
)

// Builder accumulates votes for exactly one header.
type Builder struct {
	mu sync.Mutex

	header    types.Header
	committee *types.Committee
	sign      signer.Signer

	votes       map[types.PublicKey][]byte // voter -> signature
	signerOrder []types.PublicKey          // insertion order, for deterministic aggregation
	stake       types.Stake
}

// New creates a Builder for header h.
func New(h types.Header, committee *types.Committee, sign signer.Signer) *Builder {
	return &Builder{
		header:    h,
		committee: committee,
		sign:      sign,
		votes:     make(map[types.PublicKey][]byte),
	}
}

// AddVote validates and records a vote. It fails with ErrNotInCommittee,
// ErrDuplicateVote, or ErrInvalidSignature; any other error is a caller
// bug (header digest mismatch).
func (b *Builder) AddVote(v types.Vote) error {
	if v.HeaderDigest != b.header.Digest() {
		return fmt.Errorf("certbuilder: vote is for a different header")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	member, ok := b.committee.Member(v.Voter)
	if !ok {
		return ErrNotInCommittee
	}
	if _, dup := b.votes[v.Voter]; dup {
		return ErrDuplicateVote
	}
	if !b.sign.Verify(member.RawKey, v.HeaderDigest[:], v.Signature) {
		return ErrInvalidSignature
	}

	b.votes[v.Voter] = v.Signature
	b.signerOrder = append(b.signerOrder, v.Voter)
	b.stake += member.Stake
	return nil
}

// HasQuorum reports whether the accumulated signer stake meets or exceeds
// committee quorum.
func (b *Builder) HasQuorum() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stake >= b.committee.Quorum()
}

// Stake returns the currently accumulated signer stake.
func (b *Builder) Stake() types.Stake {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stake
}

// Build assembles a Certificate once quorum is reached, aggregating the
// accumulated signatures via the configured Signer. Returns ErrNotReady if
// quorum stake has not yet been met.
func (b *Builder) Build() (*types.Certificate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stake < b.committee.Quorum() {
		return nil, ErrNotReady
	}

	sigs := make([][]byte, len(b.signerOrder))
	for i, voter := range b.signerOrder {
		sigs[i] = b.votes[voter]
	}
	agg, err := b.sign.Aggregate(sigs, b.signerOrder)
	if err != nil {
		return nil, fmt.Errorf("certbuilder: aggregate signatures: %w", err)
	}

	signers := make([]types.PublicKey, len(agg.Signers))
	copy(signers, agg.Signers)

	return &types.Certificate{
		Header:              b.header,
		AggregatedSignature: agg.Bytes,
		Signers:             signers,
	}, nil
}
