package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitteeEqualStakeQuorum(t *testing.T) {
	// 4 validators, equal stake 1, quorum = 3.
	c, err := NewCommittee([]CommitteeMember{
		{PublicKey: mkPK(1), Stake: 1},
		{PublicKey: mkPK(2), Stake: 1},
		{PublicKey: mkPK(3), Stake: 1},
		{PublicKey: mkPK(4), Stake: 1},
	})
	require.NoError(t, err)
	require.EqualValues(t, 4, c.TotalStake())
	require.EqualValues(t, 3, c.Quorum())
	require.EqualValues(t, 2, c.Validity())
}

func TestCommitteeWeightedStakeScenarioC(t *testing.T) {
	// Unequal stakes: A=5 B=4 C=2 D=2 E=2, total=15, quorum=11.
	c, err := NewCommittee([]CommitteeMember{
		{PublicKey: mkPK('A'), Stake: 5},
		{PublicKey: mkPK('B'), Stake: 4},
		{PublicKey: mkPK('C'), Stake: 2},
		{PublicKey: mkPK('D'), Stake: 2},
		{PublicKey: mkPK('E'), Stake: 2},
	})
	require.NoError(t, err)
	require.EqualValues(t, 15, c.TotalStake())
	require.EqualValues(t, 11, c.Quorum())

	require.True(t, c.HasQuorum([]PublicKey{mkPK('A'), mkPK('B'), mkPK('C')}))      // stake 11
	require.False(t, c.HasQuorum([]PublicKey{mkPK('B'), mkPK('C'), mkPK('D'), mkPK('E')})) // stake 10
}

func TestCommitteeRejectsDuplicateMember(t *testing.T) {
	_, err := NewCommittee([]CommitteeMember{
		{PublicKey: mkPK(1), Stake: 1},
		{PublicKey: mkPK(1), Stake: 2},
	})
	require.Error(t, err)
}

func TestCommitteeRejectsEmpty(t *testing.T) {
	_, err := NewCommittee(nil)
	require.Error(t, err)
}

func TestCommitteeStakeOfDedupes(t *testing.T) {
	c, err := NewCommittee([]CommitteeMember{
		{PublicKey: mkPK(1), Stake: 3},
		{PublicKey: mkPK(2), Stake: 4},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, c.StakeOf([]PublicKey{mkPK(1), mkPK(1)}))
}

func TestCommitteeSingleValidator(t *testing.T) {
	// Boundary: single-validator committee. The lone member's own stake
	// always covers quorum, so every round trivially commits.
	c, err := NewCommittee([]CommitteeMember{{PublicKey: mkPK(1), Stake: 7}})
	require.NoError(t, err)
	require.LessOrEqual(t, c.Quorum(), c.TotalStake())
	require.True(t, c.HasQuorum([]PublicKey{mkPK(1)}))
}
