package signer

import (
	"fmt"
	"sync"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/luxfi/narwhal/types"
)

// blsDST is the domain separation tag for certificate-vote signatures,
// scoping them away from any other BLS signing domain in the process.
const blsDST = "NARWHAL_SHOAL_CERT_VOTE_BLS_V1"

// BLSSigner implements Signer using real BLS12-381 signatures (min-pubkey
// size: public keys in G1, signatures in G2). A certificate's aggregated
// signature is a genuine BLS aggregate, not a concatenation, so its size
// is constant regardless of signer count.
type BLSSigner struct {
	mu   sync.RWMutex
	keys map[types.PublicKey]*blst.SecretKey
}

// NewBLSSigner creates an empty BLSSigner.
func NewBLSSigner() *BLSSigner {
	return &BLSSigner{keys: make(map[types.PublicKey]*blst.SecretKey)}
}

// AddKey derives a BLS keypair for pk from ikm and returns its compressed
// public key bytes for inclusion in CommitteeMember.RawKey.
func (s *BLSSigner) AddKey(pk types.PublicKey, ikm [32]byte) (rawPublicKey []byte, err error) {
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, fmt.Errorf("signer: bls key generation failed")
	}
	pub := new(blst.P1Affine).From(sk)
	s.mu.Lock()
	s.keys[pk] = sk
	s.mu.Unlock()
	return pub.Compress(), nil
}

// Sign implements Signer.
func (s *BLSSigner) Sign(signerKey types.PublicKey, message []byte) ([]byte, error) {
	s.mu.RLock()
	sk, ok := s.keys[signerKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signer: no bls key registered for %s", signerKey)
	}
	sig := new(blst.P2Affine).Sign(sk, message, []byte(blsDST))
	return sig.Compress(), nil
}

// Verify implements Signer.
func (s *BLSSigner) Verify(rawKey []byte, message []byte, sig []byte) bool {
	pk := new(blst.P1Affine).Uncompress(rawKey)
	if pk == nil {
		return false
	}
	sigPoint := new(blst.P2Affine).Uncompress(sig)
	if sigPoint == nil {
		return false
	}
	return sigPoint.Verify(true, pk, true, message, []byte(blsDST))
}

// Aggregate implements Signer by folding individual G2 signatures into one
// aggregate point.
func (s *BLSSigner) Aggregate(sigs [][]byte, signers []types.PublicKey) (Aggregated, error) {
	if len(sigs) != len(signers) {
		return Aggregated{}, fmt.Errorf("signer: sigs/signers length mismatch")
	}
	if len(sigs) == 0 {
		return Aggregated{}, fmt.Errorf("signer: cannot aggregate zero signatures")
	}
	points := make([]*blst.P2Affine, 0, len(sigs))
	for _, sig := range sigs {
		p := new(blst.P2Affine).Uncompress(sig)
		if p == nil {
			return Aggregated{}, fmt.Errorf("signer: malformed bls signature")
		}
		points = append(points, p)
	}
	var agg blst.P2Aggregate
	if ok := agg.Aggregate(points, true); !ok {
		return Aggregated{}, fmt.Errorf("signer: bls aggregation failed")
	}
	aggSig := agg.ToAffine()
	signersCopy := make([]types.PublicKey, len(signers))
	copy(signersCopy, signers)
	return Aggregated{Bytes: aggSig.Compress(), Signers: signersCopy}, nil
}

// VerifyAggregated implements Signer using FastAggregateVerify, the
// single-message multi-pubkey form applicable here since every signer
// signs the same header digest.
func (s *BLSSigner) VerifyAggregated(message []byte, agg Aggregated, rawKeys [][]byte) bool {
	if len(rawKeys) != len(agg.Signers) || len(rawKeys) == 0 {
		return false
	}
	pks := make([]*blst.P1Affine, 0, len(rawKeys))
	for _, rk := range rawKeys {
		pk := new(blst.P1Affine).Uncompress(rk)
		if pk == nil {
			return false
		}
		pks = append(pks, pk)
	}
	sig := new(blst.P2Affine).Uncompress(agg.Bytes)
	if sig == nil {
		return false
	}
	return sig.FastAggregateVerify(true, pks, message, []byte(blsDST))
}
