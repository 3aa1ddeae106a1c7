package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/certbuilder"
	"github.com/luxfi/narwhal/config"
	"github.com/luxfi/narwhal/metrics"
	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/storage"
	"github.com/luxfi/narwhal/transport"
	"github.com/luxfi/narwhal/types"
)

// recordingSink implements ExecutionSink, capturing every delivered
// anchor round and its transaction sequence for assertions.
type recordingSink struct {
	mu      sync.Mutex
	rounds  []uint64
	history [][]types.Transaction
}

func (s *recordingSink) Deliver(_ context.Context, round uint64, txs []types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, round)
	s.history = append(s.history, txs)
	return nil
}

func (s *recordingSink) snapshot() ([]uint64, [][]types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.rounds...), append([][]types.Transaction(nil), s.history...)
}

// cluster builds n validators sharing one signer and in-memory transport
// network, each with its own Node wired to a fresh MemKV store.
type cluster struct {
	pks       []types.PublicKey
	committee *types.Committee
	sign      *signer.ListSigner
	net       *transport.Network
	nodes     map[types.PublicKey]*Node
	sinks     map[types.PublicKey]*recordingSink
	kvs       map[types.PublicKey]*storage.MemKV
}

func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	sign := signer.NewListSigner()
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

	c := &cluster{
		pks:       pks,
		committee: committee,
		sign:      sign,
		net:       transport.NewNetwork(),
		nodes:     map[types.PublicKey]*Node{},
		sinks:     map[types.PublicKey]*recordingSink{},
		kvs:       map[types.PublicKey]*storage.MemKV{},
	}

	cfg := config.Default()
	cfg.Worker.MaxTxs = 1
	cfg.Worker.MaxAge = 0

	for _, pk := range pks {
		tp := transport.NewInMemory(c.net, pk)
		sink := &recordingSink{}
		mset := metrics.New(prometheus.NewRegistry())
		kv := storage.NewMemKV()
		nd := New(pk, committee, cfg, sign, tp, kv, sink, mset, nil)
		c.nodes[pk] = nd
		c.sinks[pk] = sink
		c.kvs[pk] = kv
	}
	return c
}

// proposeRound drives every validator's ProposeRound for round r (each
// having already submitted one transaction) and hands the resulting
// certificate to every other node's IngestCertificate; the primary's own
// broadcast reaches peers' DAG stores but not their consensus pipelines.
func (c *cluster) proposeRound(t *testing.T, ctx context.Context, r uint64, payload string) {
	t.Helper()
	for _, pk := range c.pks {
		nd := c.nodes[pk]
		require.NoError(t, nd.Worker.Submit(types.Transaction{Payload: []byte(payload)}))
	}
	for _, pk := range c.pks {
		nd := c.nodes[pk]
		cert, err := nd.ProposeRound(ctx, r)
		require.NoError(t, err)
		for _, peer := range c.pks {
			if peer == pk {
				continue // ProposeRound already fed this node's own pipeline
			}
			require.NoError(t, c.nodes[peer].IngestCertificate(cert))
		}
	}
}

func TestNodeEndToEndSingleRoundCommit(t *testing.T) {
	c := newCluster(t, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, nd := range c.nodes {
		nd.Start(ctx)
	}
	defer func() {
		for _, nd := range c.nodes {
			nd.Stop()
		}
	}()

	// Round 0: every validator proposes and certifies its own header.
	c.proposeRound(t, ctx, 0, "r0")

	// Round 1: every validator parents on all four round-0 certificates,
	// which gives round 0's anchor direct-commit support once round 1 is
	// fully certified.
	c.proposeRound(t, ctx, 1, "r1")

	require.Eventually(t, func() bool {
		for _, pk := range c.pks {
			rounds, _ := c.sinks[pk].snapshot()
			if len(rounds) == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "every validator should deliver a committed anchor for round 0")

	// Every honest validator must commit the same anchor round with an
	// identical transaction sequence.
	first, firstTxs := c.sinks[c.pks[0]].snapshot()
	for _, pk := range c.pks[1:] {
		rounds, txs := c.sinks[pk].snapshot()
		require.Equal(t, first, rounds)
		require.Equal(t, firstTxs, txs)
	}

	status := c.nodes[c.pks[0]].Status()
	require.GreaterOrEqual(t, status.HighestKnownRound, uint64(1))
	require.Equal(t, uint64(0), status.LastCommittedRound)
}

func TestNodeRecoverRebuildsFromPersistedState(t *testing.T) {
	c := newCluster(t, 4)
	ctx := context.Background()

	c.proposeRound(t, ctx, 0, "r0")
	c.proposeRound(t, ctx, 1, "r1")

	crashed := c.nodes[c.pks[0]]
	require.EqualValues(t, 1, crashed.DAG.HighestRound())

	// A fresh node over the crashed validator's KV must rebuild the same
	// DAG and resume proposing past the recovered rounds.
	tp := transport.NewInMemory(transport.NewNetwork(), c.pks[0])
	fresh := New(c.pks[0], c.committee, config.Default(), c.sign, tp, c.kvs[c.pks[0]], &recordingSink{}, nil, nil)

	report, err := fresh.Recover(storage.Hybrid)
	require.NoError(t, err)
	require.True(t, report.Verified)
	require.EqualValues(t, 1, fresh.DAG.HighestRound())
	require.Len(t, fresh.DAG.Round(0), 4)
	require.Len(t, fresh.DAG.Round(1), 4)
	require.EqualValues(t, 1, fresh.Primary.CurrentRound())
}

func TestNodeIngestCertificateRejectsEquivocation(t *testing.T) {
	c := newCluster(t, 4)

	author := c.pks[0]
	h1 := types.Header{Author: author, Round: 0}
	h2 := types.Header{Author: author, Round: 0, BatchDigest: types.Digest{1}}

	nd := c.nodes[c.pks[1]]
	cert1 := buildTestCertificate(t, c, h1)
	cert2 := buildTestCertificate(t, c, h2)

	require.NoError(t, nd.IngestCertificate(cert1))
	err := nd.IngestCertificate(cert2)
	require.Error(t, err)
}

func buildTestCertificate(t *testing.T, c *cluster, h types.Header) *types.Certificate {
	t.Helper()
	b := certbuilder.New(h, c.committee, c.sign)
	for _, pk := range c.pks[:3] {
		hd := h.Digest()
		sig, err := c.sign.Sign(pk, hd[:])
		require.NoError(t, err)
		require.NoError(t, b.AddVote(types.Vote{HeaderDigest: h.Digest(), Voter: pk, Signature: sig}))
	}
	cert, err := b.Build()
	require.NoError(t, err)
	return cert
}
