// Package types defines the core data model shared by every component of
// the consensus core: digests, committee membership, transactions,
// batches, headers, votes, and certificates.
package types

import (
	"time"

	"github.com/luxfi/ids"
	"github.com/zeebo/blake3"
)

// Digest is a 32-byte cryptographic hash, used as the identity of a batch,
// header, or certificate.
type Digest = ids.ID

// PublicKey identifies a validator. It is the hash-derived identity used
// as a map key everywhere a validator is referenced; the raw signing key
// bytes live in CommitteeMember.RawKey.
type PublicKey = ids.NodeID

// Stake is a non-negative integer weight held by a committee member.
type Stake = uint64

// EmptyDigest is the zero digest, used as a sentinel for "no parent" and
// similar absent-reference cases.
var EmptyDigest = ids.Empty

// hash256 computes the canonical 32-byte digest of a byte string using
// BLAKE3, the hash function used throughout this package for digesting
// canonical encodings.
func hash256(b []byte) Digest {
	sum := blake3.Sum256(b)
	return Digest(sum)
}

// Transaction is an opaque byte string the core never interprets, plus
// optional application metadata carried alongside it.
type Transaction struct {
	Payload  []byte
	Metadata []byte
}

// Batch is a finite ordered sequence of transactions produced by a single
// worker, sealed with a creation timestamp.
type Batch struct {
	Worker       uint32
	Transactions []Transaction
	CreatedAt    time.Time

	digest    Digest
	hasDigest bool
}

// Digest returns the canonical digest of the batch, computing and caching
// it on first call.
func (b *Batch) Digest() Digest {
	if !b.hasDigest {
		b.digest = hash256(EncodeBatch(b))
		b.hasDigest = true
	}
	return b.digest
}

// Header is a validator's round proposal: the batch it vouches for and the
// round r-1 certificates it builds on.
type Header struct {
	Author      PublicKey
	Round       uint64
	BatchDigest Digest
	Parents     []Digest // certificate digests from round-1; empty at round 0
	Timestamp   time.Time

	digest    Digest
	hasDigest bool
}

// Digest returns the canonical digest of the header, computing and caching
// it on first call.
func (h *Header) Digest() Digest {
	if !h.hasDigest {
		h.digest = hash256(EncodeHeader(h))
		h.hasDigest = true
	}
	return h.digest
}

// IsGenesis reports whether this header is a round-0 proposal, which must
// carry no parents.
func (h *Header) IsGenesis() bool {
	return h.Round == 0
}

// Vote is a single committee member's signature over a header digest.
type Vote struct {
	HeaderDigest Digest
	Voter        PublicKey
	Signature    []byte
}

// Certificate is a header plus an aggregated quorum of voter signatures.
type Certificate struct {
	Header              Header
	AggregatedSignature []byte
	Signers             []PublicKey // in the order the certificate builder accepted the votes

	digest    Digest
	hasDigest bool
}

// Digest returns the canonical digest of the certificate: the hash of the
// header digest concatenated with the signer set.
func (c *Certificate) Digest() Digest {
	if !c.hasDigest {
		c.digest = hash256(EncodeCertificateDigestInput(c))
		c.hasDigest = true
	}
	return c.digest
}

// Round returns the certificate's round, i.e. its header's round.
func (c *Certificate) Round() uint64 { return c.Header.Round }

// Author returns the certificate's author, i.e. its header's author.
func (c *Certificate) Author() PublicKey { return c.Header.Author }

// Parents returns the certificate digests this certificate's header
// references from round-1.
func (c *Certificate) Parents() []Digest { return c.Header.Parents }

// SignerStake sums the stake of every signer in the committee. The caller
// is responsible for passing a committee consistent with Signers; a signer
// absent from the committee contributes zero (callers must have already
// rejected NotInCommittee signers during verification).
func (c *Certificate) SignerStake(cm *Committee) Stake {
	var total Stake
	for _, s := range c.Signers {
		if m, ok := cm.Member(s); ok {
			total += m.Stake
		}
	}
	return total
}
