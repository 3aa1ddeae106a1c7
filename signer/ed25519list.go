package signer

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/luxfi/narwhal/types"
)

// ListSigner implements Signer using Ed25519 with a list of signatures.
// Aggregation is literal concatenation of individual signatures in signer order;
// verification re-checks each one independently. There is no compression
// of signature size, unlike the BLS implementation.
type ListSigner struct {
	mu   sync.RWMutex
	keys map[types.PublicKey]ed25519.PrivateKey
}

// NewListSigner creates an empty ListSigner. Keys are registered with
// AddKey before Sign can be used for that signer.
func NewListSigner() *ListSigner {
	return &ListSigner{keys: make(map[types.PublicKey]ed25519.PrivateKey)}
}

// AddKey registers a signing key for pk, generating a fresh Ed25519
// keypair and returning its public key bytes for inclusion in the
// committee's CommitteeMember.RawKey.
func (s *ListSigner) AddKey(pk types.PublicKey) (rawPublicKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("signer: generate ed25519 key: %w", err)
	}
	s.mu.Lock()
	s.keys[pk] = priv
	s.mu.Unlock()
	return pub, nil
}

// Sign implements Signer.
func (s *ListSigner) Sign(signerKey types.PublicKey, message []byte) ([]byte, error) {
	s.mu.RLock()
	priv, ok := s.keys[signerKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signer: no ed25519 key registered for %s", signerKey)
	}
	return ed25519.Sign(priv, message), nil
}

// Verify implements Signer.
func (s *ListSigner) Verify(rawKey []byte, message []byte, sig []byte) bool {
	if len(rawKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(rawKey), message, sig)
}

// Aggregate implements Signer by concatenating the fixed-size signatures,
// with no length prefix, in the order supplied. Order must match signers.
func (s *ListSigner) Aggregate(sigs [][]byte, signers []types.PublicKey) (Aggregated, error) {
	if len(sigs) != len(signers) {
		return Aggregated{}, fmt.Errorf("signer: sigs/signers length mismatch")
	}
	out := make([]byte, 0, len(sigs)*ed25519.SignatureSize)
	for _, sig := range sigs {
		if len(sig) != ed25519.SignatureSize {
			return Aggregated{}, fmt.Errorf("signer: malformed ed25519 signature")
		}
		out = append(out, sig...)
	}
	signersCopy := make([]types.PublicKey, len(signers))
	copy(signersCopy, signers)
	return Aggregated{Bytes: out, Signers: signersCopy}, nil
}

// VerifyAggregated implements Signer by splitting the concatenated blob
// back into individual signatures and verifying each against its key.
func (s *ListSigner) VerifyAggregated(message []byte, agg Aggregated, rawKeys [][]byte) bool {
	if len(rawKeys) != len(agg.Signers) {
		return false
	}
	if len(agg.Bytes) != len(rawKeys)*ed25519.SignatureSize {
		return false
	}
	for i, rawKey := range rawKeys {
		sig := agg.Bytes[i*ed25519.SignatureSize : (i+1)*ed25519.SignatureSize]
		if !s.Verify(rawKey, message, sig) {
			return false
		}
	}
	return true
}
