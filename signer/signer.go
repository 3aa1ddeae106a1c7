// Package signer defines the signature collaborator contract:
// Sign, Verify, Aggregate, VerifyAggregated. The core never implements a
// signature algorithm of its own; it depends on this interface and ships
// two concrete, pluggable implementations — a real BLS12-381 aggregator
// and an Ed25519 list-of-signatures fallback — so the interface boundary
// is actually exercised rather than merely declared.
package signer

import "github.com/luxfi/narwhal/types"

// Aggregated is an opaque aggregated-signature blob plus the set of
// signers it covers, in signing order.
type Aggregated struct {
	Bytes   []byte
	Signers []types.PublicKey
}

// Signer is the pluggable signature collaborator. Implementations must be
// safe for concurrent use.
type Signer interface {
	// Sign signs a message under the key identified by signer.
	Sign(signer types.PublicKey, message []byte) ([]byte, error)

	// Verify checks a single signature against a raw public key.
	Verify(rawKey []byte, message []byte, sig []byte) bool

	// Aggregate combines per-signer signatures over the same message into
	// one aggregated signature.
	Aggregate(sigs [][]byte, signers []types.PublicKey) (Aggregated, error)

	// VerifyAggregated checks an aggregated signature against the raw
	// public keys of its claimed signers, in the same order.
	VerifyAggregated(message []byte, agg Aggregated, rawKeys [][]byte) bool
}
