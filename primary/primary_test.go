package primary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/certbuilder"
	"github.com/luxfi/narwhal/dagstore"
	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/transport"
	"github.com/luxfi/narwhal/types"
	"github.com/luxfi/narwhal/worker"
)

// network builds n validators (equal stake, quorum = 2n/3+1), each with
// their own Worker/Store/Primary wired over a shared in-memory transport.
// 4 is the smallest committee that tolerates one Byzantine member.
func network(t *testing.T, n int) (*types.Committee, []types.PublicKey, []*Primary, *signer.ListSigner) {
	t.Helper()
	sign := signer.NewListSigner()
	net := transport.NewNetwork()

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
	committee, err := types.NewCommittee(members)
	require.NoError(t, err)

	var primaries []*Primary
	for _, pk := range pks {
		store := dagstore.New(committee, sign, nil)
		wk := worker.New(worker.Config{ID: 1, MaxTxs: 1}, nil)
		tp := transport.NewInMemory(net, pk)
		primaries = append(primaries, New(pk, committee, sign, wk, store, tp, nil))
	}
	return committee, pks, primaries, sign
}

func TestProposeGenesisRoundReachesQuorumAndCommits(t *testing.T) {
	committee, _, primaries, _ := network(t, 4)

	for _, p := range primaries {
		require.NoError(t, p.wk.Submit(types.Transaction{Payload: []byte("tx")}))
	}

	cert, err := primaries[0].ProposeHeader(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, cert.Round())
	require.GreaterOrEqual(t, cert.SignerStake(committee), committee.Quorum())
}

func TestReadyToAdvanceRequiresParentQuorum(t *testing.T) {
	_, _, primaries, _ := network(t, 4)
	require.False(t, primaries[0].ReadyToAdvance(0))

	for _, p := range primaries {
		require.NoError(t, p.wk.Submit(types.Transaction{Payload: []byte("tx")}))
		_, err := p.ProposeHeader(context.Background(), 0)
		require.NoError(t, err)
	}
	require.True(t, primaries[0].ReadyToAdvance(0))
	require.False(t, primaries[0].ReadyToAdvance(1))
}

func TestProcessHeaderDetectsEquivocation(t *testing.T) {
	_, pks, primaries, _ := network(t, 4)
	p := primaries[1]

	h1 := &types.Header{Author: pks[0], Round: 0}
	require.NoError(t, p.ProcessHeader(h1))

	h2 := &types.Header{Author: pks[0], Round: 0, BatchDigest: types.Digest{0x01}}
	err := p.ProcessHeader(h2)
	require.ErrorIs(t, err, ErrHeaderEquivocation)

	evidence := p.Evidence(pks[0], 0)
	require.Len(t, evidence, 1)
}

func TestProcessHeaderQuarantinesOnMissingParent(t *testing.T) {
	_, pks, primaries, _ := network(t, 4)
	p := primaries[1]

	h := &types.Header{Author: pks[0], Round: 1, Parents: []types.Digest{{0xAB}}}
	err := p.ProcessHeader(h)
	require.ErrorIs(t, err, ErrMissingHeaderParent)
}

func TestQuarantinedHeaderResolvesWhenParentArrives(t *testing.T) {
	committee, pks, primaries, sign := network(t, 4)
	p := primaries[1]

	// Seal a full round-0 certificate set without p ever seeing it.
	var parents []types.Digest
	var round0 []*types.Certificate
	for _, author := range pks {
		h := types.Header{Author: author, Round: 0}
		b := certbuilder.New(h, committee, sign)
		for _, voter := range pks[:3] {
			hd := h.Digest()
			sig, err := sign.Sign(voter, hd[:])
			require.NoError(t, err)
			require.NoError(t, b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: voter, Signature: sig}))
		}
		cert, err := b.Build()
		require.NoError(t, err)
		round0 = append(round0, cert)
		parents = append(parents, cert.Digest())
	}

	// The round-1 header arrives before any of its parents and is
	// quarantined, not voted on.
	h1 := &types.Header{Author: pks[0], Round: 1, Parents: parents}
	require.ErrorIs(t, p.ProcessHeader(h1), ErrMissingHeaderParent)

	// As each parent certificate lands, the quarantined header is
	// re-evaluated; once the last one arrives it is accepted.
	for _, cert := range round0 {
		require.NoError(t, p.store.Insert(cert))
		p.ResolveQuarantined(cert.Digest())
	}

	// Accepted during resolution: a conflicting header from the same
	// author and round is now equivocation, not a fresh proposal.
	h2 := &types.Header{Author: pks[0], Round: 1, Parents: parents, BatchDigest: types.Digest{0xEE}}
	require.ErrorIs(t, p.ProcessHeader(h2), ErrHeaderEquivocation)
	require.Len(t, p.Evidence(pks[0], 1), 1)
}

func TestProcessHeaderRejectsParentStakeBelowQuorum(t *testing.T) {
	_, pks, primaries, _ := network(t, 4)

	for _, p := range primaries {
		require.NoError(t, p.wk.Submit(types.Transaction{Payload: []byte("tx")}))
		_, err := p.ProposeHeader(context.Background(), 0)
		require.NoError(t, err)
	}

	// Two distinct-author parents carry stake 2, below the quorum of 3.
	p := primaries[1]
	round0 := p.store.Round(0)
	thin := &types.Header{Author: pks[0], Round: 1, Parents: []types.Digest{
		round0[0].Digest(), round0[1].Digest(),
	}}
	err := p.ProcessHeader(thin)
	require.ErrorIs(t, err, ErrParentStakeBelowQuorum)
}

func TestProposeAdvancesAcrossRounds(t *testing.T) {
	_, _, primaries, _ := network(t, 4)

	// Every validator certifies a round-0 header so each local DAG holds
	// a full quorum of parents for round 1.
	var round0 []*types.Certificate
	for _, p := range primaries {
		require.NoError(t, p.wk.Submit(types.Transaction{Payload: []byte("tx0")}))
		cert, err := p.ProposeHeader(context.Background(), 0)
		require.NoError(t, err)
		round0 = append(round0, cert)
	}

	for _, p := range primaries {
		require.NoError(t, p.wk.Submit(types.Transaction{Payload: []byte("tx1")}))
	}

	cert1, err := primaries[0].ProposeHeader(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, cert1.Round())
	require.Contains(t, cert1.Parents(), round0[0].Digest())
}
