package signer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/types"
)

func TestListSignerSignVerify(t *testing.T) {
	s := NewListSigner()
	var pk types.PublicKey
	pk[0] = 1
	raw, err := s.AddKey(pk)
	require.NoError(t, err)

	msg := []byte("header-digest")
	sig, err := s.Sign(pk, msg)
	require.NoError(t, err)
	require.True(t, s.Verify(raw, msg, sig))
	require.False(t, s.Verify(raw, []byte("other message"), sig))
}

func TestListSignerAggregateAndVerify(t *testing.T) {
	s := NewListSigner()
	msg := []byte("header-digest")

	var signers []types.PublicKey
	var rawKeys [][]byte
	var sigs [][]byte
	for i := byte(1); i <= 3; i++ {
		var pk types.PublicKey
		pk[0] = i
		raw, err := s.AddKey(pk)
		require.NoError(t, err)
		sig, err := s.Sign(pk, msg)
		require.NoError(t, err)

		signers = append(signers, pk)
		rawKeys = append(rawKeys, raw)
		sigs = append(sigs, sig)
	}

	agg, err := s.Aggregate(sigs, signers)
	require.NoError(t, err)
	require.True(t, s.VerifyAggregated(msg, agg, rawKeys))

	// Tampering with one signature must fail verification.
	agg.Bytes[0] ^= 0xFF
	require.False(t, s.VerifyAggregated(msg, agg, rawKeys))
}

func TestListSignerRejectsUnknownSigner(t *testing.T) {
	s := NewListSigner()
	var pk types.PublicKey
	pk[0] = 9
	_, err := s.Sign(pk, []byte("x"))
	require.Error(t, err)
}

func TestListSignerAggregateLengthMismatch(t *testing.T) {
	s := NewListSigner()
	_, err := s.Aggregate([][]byte{{1, 2, 3}}, nil)
	require.Error(t, err)
}
