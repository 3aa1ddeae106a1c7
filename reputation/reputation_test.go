package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/types"
)

func mkCommittee(t *testing.T, stakes ...types.Stake) (*types.Committee, []types.PublicKey) {
	t.Helper()
	var members []types.CommitteeMember
	var pks []types.PublicKey
	for i, stake := range stakes {
		var pk types.PublicKey
		pk[0] = byte(i + 1)
		members = append(members, types.CommitteeMember{PublicKey: pk, Stake: stake})
		pks = append(pks, pk)
	}
	c, err := types.NewCommittee(members)
	require.NoError(t, err)
	return c, pks
}

func TestScoreStartsNeutralAndDecaysWithMisses(t *testing.T) {
	m := New(DefaultConfig())
	_, pks := mkCommittee(t, 1, 1)

	require.Equal(t, 1.0, m.Score(pks[0]))

	for i := 0; i < 10; i++ {
		m.RecordParticipation(pks[0], false)
	}
	require.Less(t, m.Score(pks[0]), 1.0)
	require.GreaterOrEqual(t, m.Score(pks[0]), DefaultConfig().MinScore)
}

func TestScoreRecoversWithParticipation(t *testing.T) {
	m := New(DefaultConfig())
	_, pks := mkCommittee(t, 1)
	for i := 0; i < 20; i++ {
		m.RecordParticipation(pks[0], false)
	}
	low := m.Score(pks[0])
	for i := 0; i < 20; i++ {
		m.RecordParticipation(pks[0], true)
	}
	require.Greater(t, m.Score(pks[0]), low)
}

func TestRecordPenalizesLatencyBeyondTarget(t *testing.T) {
	cfg := Config{WindowSize: 10, MinScore: 0.0, Decay: 1.0, TargetLatency: 100}
	fast := New(cfg)
	slow := New(cfg)
	_, pks := mkCommittee(t, 1)

	for i := 0; i < 5; i++ {
		fast.Record(pks[0], 50, true)
		slow.Record(pks[0], 400, true)
	}
	require.Equal(t, 1.0, fast.Score(pks[0]))
	require.Less(t, slow.Score(pks[0]), 1.0)
	require.Greater(t, slow.Score(pks[0]), 0.0)

	// Failure scores zero regardless of latency.
	failed := New(cfg)
	failed.Record(pks[0], 10, false)
	require.Equal(t, 0.0, failed.Score(pks[0]))
}

func TestWindowSizeEvictsOldSamples(t *testing.T) {
	cfg := Config{WindowSize: 3, MinScore: 0.0, Decay: 1.0}
	m := New(cfg)
	_, pks := mkCommittee(t, 1)

	m.RecordParticipation(pks[0], false)
	m.RecordParticipation(pks[0], false)
	m.RecordParticipation(pks[0], false)
	require.Equal(t, 0.0, m.Score(pks[0]))

	m.RecordParticipation(pks[0], true)
	m.RecordParticipation(pks[0], true)
	m.RecordParticipation(pks[0], true)
	require.Equal(t, 1.0, m.Score(pks[0]))
}

func TestLeaderIsDeterministicAcrossManagers(t *testing.T) {
	committee, _ := mkCommittee(t, 5, 4, 2, 2, 2)
	m1 := New(DefaultConfig())
	m2 := New(DefaultConfig())

	for r := uint64(0); r < 50; r++ {
		require.Equal(t, m1.Leader(committee, r), m2.Leader(committee, r))
	}
}

func TestLeaderIsAlwaysACommitteeMember(t *testing.T) {
	committee, pks := mkCommittee(t, 5, 4, 2, 2, 2)
	m := New(DefaultConfig())
	members := make(map[types.PublicKey]bool)
	for _, pk := range pks {
		members[pk] = true
	}
	for r := uint64(0); r < 100; r++ {
		require.True(t, members[m.Leader(committee, r)])
		require.True(t, members[m.FallbackLeader(committee, r)])
	}
}

func TestLeaderDistributesAcrossValidatorsOverManyRounds(t *testing.T) {
	committee, pks := mkCommittee(t, 1, 1, 1, 1)
	m := New(DefaultConfig())
	counts := make(map[types.PublicKey]int)
	for r := uint64(0); r < 2000; r++ {
		counts[m.Leader(committee, r)]++
	}
	for _, pk := range pks {
		require.Greater(t, counts[pk], 0)
	}
}

func TestReputationShiftsLeaderWeightAway(t *testing.T) {
	committee, pks := mkCommittee(t, 1, 1)
	m := New(DefaultConfig())
	for i := 0; i < 100; i++ {
		m.RecordParticipation(pks[0], false)
	}

	countSlacker := 0
	for r := uint64(0); r < 500; r++ {
		if m.Leader(committee, r) == pks[0] {
			countSlacker++
		}
	}
	require.Less(t, countSlacker, 250) // well below the unweighted 50% share
}
