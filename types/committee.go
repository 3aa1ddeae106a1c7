package types

import (
	"fmt"
	"sort"
)

// CommitteeMember is the committee's record for one validator: its stake
// weight, network address, and raw signing key.
type CommitteeMember struct {
	PublicKey PublicKey
	RawKey    []byte // raw verification key bytes (ed25519 or BLS public key)
	Stake     Stake
	Address   string
}

// Committee is the fixed validator set for the lifetime of the core.
// Reconfiguration is an external concern; once
// built, a Committee never mutates.
type Committee struct {
	members    map[PublicKey]CommitteeMember
	order      []PublicKey // deterministic ascending iteration order
	totalStake Stake
}

// NewCommittee builds an immutable Committee from a member list. Genesis
// round is always 0; the caller supplies no round information here.
func NewCommittee(members []CommitteeMember) (*Committee, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("committee: at least one member required")
	}
	c := &Committee{
		members: make(map[PublicKey]CommitteeMember, len(members)),
	}
	for _, m := range members {
		if _, dup := c.members[m.PublicKey]; dup {
			return nil, fmt.Errorf("committee: duplicate public key %s", m.PublicKey)
		}
		c.members[m.PublicKey] = m
		c.order = append(c.order, m.PublicKey)
		c.totalStake += m.Stake
	}
	sort.Slice(c.order, func(i, j int) bool {
		return c.order[i].Compare(c.order[j]) < 0
	})
	return c, nil
}

// Member returns the committee record for a public key.
func (c *Committee) Member(pk PublicKey) (CommitteeMember, bool) {
	m, ok := c.members[pk]
	return m, ok
}

// Has reports whether pk is a committee member.
func (c *Committee) Has(pk PublicKey) bool {
	_, ok := c.members[pk]
	return ok
}

// Len returns the number of committee members.
func (c *Committee) Len() int { return len(c.members) }

// TotalStake returns the sum of all members' stake.
func (c *Committee) TotalStake() Stake { return c.totalStake }

// Quorum returns the minimum combined stake needed for a quorum:
// floor(2*total/3) + 1.
func (c *Committee) Quorum() Stake {
	return (2*c.totalStake)/3 + 1
}

// Validity returns the minimum combined stake for a "non-trivial" set:
// floor(total/3) + 1. A set below this threshold cannot contain a single
// honest validator's worth of stake under the <1/3 Byzantine assumption.
func (c *Committee) Validity() Stake {
	return c.totalStake/3 + 1
}

// Members returns the committee's members in deterministic ascending
// public-key order. Callers must not mutate the returned slice's backing
// array across calls; a fresh slice is returned each time.
func (c *Committee) Members() []CommitteeMember {
	out := make([]CommitteeMember, len(c.order))
	for i, pk := range c.order {
		out[i] = c.members[pk]
	}
	return out
}

// StakeOf returns the stake of a set of public keys, counting each key at
// most once regardless of duplicates in the input.
func (c *Committee) StakeOf(pks []PublicKey) Stake {
	seen := make(map[PublicKey]bool, len(pks))
	var total Stake
	for _, pk := range pks {
		if seen[pk] {
			continue
		}
		seen[pk] = true
		if m, ok := c.members[pk]; ok {
			total += m.Stake
		}
	}
	return total
}

// HasQuorum reports whether the stake of pks meets or exceeds quorum.
func (c *Committee) HasQuorum(pks []PublicKey) bool {
	return c.StakeOf(pks) >= c.Quorum()
}
