package certbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/types"
)

func setupCommittee(t *testing.T, sign *signer.ListSigner, n int) (*types.Committee, []types.PublicKey) {
	t.Helper()
	var members []types.CommitteeMember
	var pks []types.PublicKey
	for i := 0; i < n; i++ {
		var pk types.PublicKey
		pk[0] = byte(i + 1)
		raw, err := sign.AddKey(pk)
		require.NoError(t, err)
		members = append(members, types.CommitteeMember{PublicKey: pk, RawKey: raw, Stake: 1})
		pks = append(pks, pk)
	}
	c, err := types.NewCommittee(members)
	require.NoError(t, err)
	return c, pks
}

func TestBuilderReachesQuorum(t *testing.T) {
	sign := signer.NewListSigner()
	committee, pks := setupCommittee(t, sign, 4) // quorum = 3

	h := types.Header{Author: pks[0], Round: 1}
	b := New(h, committee, sign)

	_, err := b.Build()
	require.ErrorIs(t, err, ErrNotReady)

	for i := 0; i < 2; i++ {
		hd := h.Digest()
		sig, err := sign.Sign(pks[i], hd[:])
		require.NoError(t, err)
		require.NoError(t, b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[i], Signature: sig}))
	}
	require.False(t, b.HasQuorum())

	hd := h.Digest()
	sig, err := sign.Sign(pks[2], hd[:])
	require.NoError(t, err)
	require.NoError(t, b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[2], Signature: sig}))
	require.True(t, b.HasQuorum())

	cert, err := b.Build()
	require.NoError(t, err)
	require.EqualValues(t, 3, cert.SignerStake(committee))
}

func TestBuilderRejectsNonCommitteeVoter(t *testing.T) {
	sign := signer.NewListSigner()
	committee, pks := setupCommittee(t, sign, 2)
	h := types.Header{Author: pks[0], Round: 1}
	b := New(h, committee, sign)

	var outsider types.PublicKey
	outsider[0] = 99
	_, err := sign.AddKey(outsider)
	require.NoError(t, err)
	hd := h.Digest()
	sig, err := sign.Sign(outsider, hd[:])
	require.NoError(t, err)

	err = b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: outsider, Signature: sig})
	require.ErrorIs(t, err, ErrNotInCommittee)
}

func TestBuilderRejectsDuplicateVote(t *testing.T) {
	sign := signer.NewListSigner()
	committee, pks := setupCommittee(t, sign, 2)
	h := types.Header{Author: pks[0], Round: 1}
	b := New(h, committee, sign)

	hd := h.Digest()
	sig, err := sign.Sign(pks[0], hd[:])
	require.NoError(t, err)
	require.NoError(t, b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[0], Signature: sig}))
	err = b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[0], Signature: sig})
	require.ErrorIs(t, err, ErrDuplicateVote)
}

func TestBuilderRejectsBadSignature(t *testing.T) {
	sign := signer.NewListSigner()
	committee, pks := setupCommittee(t, sign, 2)
	h := types.Header{Author: pks[0], Round: 1}
	b := New(h, committee, sign)

	err := b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[0], Signature: []byte("garbage")})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWeightedQuorumScenarioC(t *testing.T) {
	sign := signer.NewListSigner()
	stakes := map[byte]types.Stake{'A': 5, 'B': 4, 'C': 2, 'D': 2, 'E': 2}
	var members []types.CommitteeMember
	pks := map[byte]types.PublicKey{}
	for name, stake := range stakes {
		var pk types.PublicKey
		pk[0] = name
		raw, err := sign.AddKey(pk)
		require.NoError(t, err)
		members = append(members, types.CommitteeMember{PublicKey: pk, RawKey: raw, Stake: stake})
		pks[name] = pk
	}
	committee, err := types.NewCommittee(members)
	require.NoError(t, err)
	require.EqualValues(t, 11, committee.Quorum())

	h := types.Header{Author: pks['A'], Round: 1}

	build := func(names ...byte) (*types.Certificate, error) {
		b := New(h, committee, sign)
		for _, n := range names {
			hd := h.Digest()
			sig, err := sign.Sign(pks[n], hd[:])
			require.NoError(t, err)
			if err := b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pks[n], Signature: sig}); err != nil {
				return nil, err
			}
		}
		return b.Build()
	}

	_, err = build('A', 'B', 'C') // stake 11
	require.NoError(t, err)

	_, err = build('B', 'C', 'D', 'E') // stake 10
	require.ErrorIs(t, err, ErrNotReady)
}
