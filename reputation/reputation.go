// Package reputation tracks per-validator performance and derives the
// deterministic, stake-and-reputation-weighted leader for each round.
// The weighted draw is seeded by a BLAKE3 hash of the round so every
// validator computes the identical leader without any communication.
package reputation

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/zeebo/blake3"

	"github.com/luxfi/narwhal/types"
)

// Config controls the sliding window and score bounds.
type Config struct {
	WindowSize    int     // number of recent rounds retained per validator, e.g. 100
	MinScore      float64 // floor a score can decay to, e.g. 0.1
	Decay         float64 // exponential weight given to more recent samples, in (0, 1]
	TargetLatency float64 // milliseconds; latency at or below this scores full marks
}

// DefaultConfig is tuned for a committee exchanging certificates at
// sub-second cadence.
func DefaultConfig() Config {
	return Config{WindowSize: 100, MinScore: 0.1, Decay: 0.9, TargetLatency: 1000}
}

// Manager maintains a bounded performance history per validator and
// derives deterministic leader schedules from it.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	window map[types.PublicKey][]float64 // most recent samples, oldest first
}

func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, window: make(map[types.PublicKey][]float64)}
}

// Snapshot returns a deep copy of every validator's sample window, for
// inclusion in a storage checkpoint.
func (m *Manager) Snapshot() map[types.PublicKey][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.PublicKey][]float64, len(m.window))
	for pk, hist := range m.window {
		out[pk] = append([]float64(nil), hist...)
	}
	return out
}

// Restore replaces the manager's sample windows with snapshot, as loaded
// from a checkpoint during recovery.
func (m *Manager) Restore(snapshot map[types.PublicKey][]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = make(map[types.PublicKey][]float64, len(snapshot))
	for pk, hist := range snapshot {
		m.window[pk] = append([]float64(nil), hist...)
	}
}

// Record appends one performance sample for validator: 0.0 on failure,
// otherwise a value in (0, 1] that decreases monotonically as latency
// exceeds TargetLatency. The oldest sample is evicted once the window is
// full.
func (m *Manager) Record(validator types.PublicKey, latencyMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample := 0.0
	if success {
		sample = m.latencyFactorLocked(latencyMs)
	}
	hist := m.window[validator]
	hist = append(hist, sample)
	if len(hist) > m.cfg.WindowSize && m.cfg.WindowSize > 0 {
		hist = hist[len(hist)-m.cfg.WindowSize:]
	}
	m.window[validator] = hist
}

// latencyFactorLocked maps a latency to (0, 1]: full marks at or below
// TargetLatency, degrading proportionally beyond it.
func (m *Manager) latencyFactorLocked(latencyMs float64) float64 {
	if m.cfg.TargetLatency <= 0 || latencyMs <= m.cfg.TargetLatency {
		return 1.0
	}
	return m.cfg.TargetLatency / latencyMs
}

// RecordParticipation appends a full-marks (certificate produced this
// round) or zero (missed) sample for validator, for callers that observe
// participation but not latency.
func (m *Manager) RecordParticipation(validator types.PublicKey, produced bool) {
	m.Record(validator, 0, produced)
}

// Score returns validator's current exponentially-decayed mean
// performance, clamped to [MinScore, 1.0]. A validator with no history
// starts at a neutral 1.0.
func (m *Manager) Score(validator types.PublicKey) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreLocked(validator)
}

func (m *Manager) scoreLocked(validator types.PublicKey) float64 {
	hist := m.window[validator]
	if len(hist) == 0 {
		return 1.0
	}

	var weightedSum, weightTotal, w float64
	w = 1.0
	for i := len(hist) - 1; i >= 0; i-- {
		weightedSum += hist[i] * w
		weightTotal += w
		w *= m.cfg.Decay
	}
	mean := weightedSum / weightTotal
	if mean < m.cfg.MinScore {
		return m.cfg.MinScore
	}
	if mean > 1.0 {
		return 1.0
	}
	return mean
}

// WindowStats reports the raw (non-decayed) mean and standard deviation of
// validator's participation history, for monitoring dashboards rather
// than leader selection (which uses the decayed Score).
func (m *Manager) WindowStats(validator types.PublicKey) (mean, stddev float64, err error) {
	m.mu.Lock()
	hist := append([]float64(nil), m.window[validator]...)
	m.mu.Unlock()

	if len(hist) == 0 {
		return 1.0, 0, nil
	}
	mean, err = stats.Mean(stats.Float64Data(hist))
	if err != nil {
		return 0, 0, err
	}
	stddev, err = stats.StandardDeviation(stats.Float64Data(hist))
	if err != nil {
		return 0, 0, err
	}
	return mean, stddev, nil
}

// weight is a validator's reputation-weighted stake: score(v) * stake(v),
// the unit the leader draw samples over.
func (m *Manager) weight(committee *types.Committee, validator types.PublicKey) float64 {
	member, ok := committee.Member(validator)
	if !ok {
		return 0
	}
	return m.scoreLocked(validator) * float64(member.Stake)
}

// Leader deterministically selects round's primary leader from committee,
// weighted by reputation-adjusted stake. Every correct validator computes
// the same answer given the same committee and history.
func (m *Manager) Leader(committee *types.Committee, round uint64) types.PublicKey {
	return m.weightedDraw(committee, round, "leader")
}

// FallbackLeader selects an alternate leader for round using a distinct
// seed, used when the primary leader's certificate is unavailable within
// the responsiveness window.
func (m *Manager) FallbackLeader(committee *types.Committee, round uint64) types.PublicKey {
	return m.weightedDraw(committee, round, "fallback")
}

func (m *Manager) weightedDraw(committee *types.Committee, round uint64, salt string) types.PublicKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := committee.Members()
	sort.Slice(members, func(i, j int) bool {
		return members[i].PublicKey.Compare(members[j].PublicKey) < 0
	})

	var total float64
	weights := make([]float64, len(members))
	for i, mem := range members {
		w := m.weight(committee, mem.PublicKey)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		// Every validator scored at the floor or the committee is empty of
		// stake: fall back to uniform selection by hash alone.
		return tieBreakLeader(members, round)
	}

	target := seededUnitInterval(round, salt) * total
	var cumulative float64
	for i, mem := range members {
		cumulative += weights[i]
		if target < cumulative {
			return mem.PublicKey
		}
	}
	return members[len(members)-1].PublicKey
}

// tieBreakLeader picks deterministically by lexicographically smallest
// hash(round || "leader" || pubkey), used when the total weight is not
// positive.
func tieBreakLeader(members []types.CommitteeMember, round uint64) types.PublicKey {
	if len(members) == 0 {
		return types.PublicKey{}
	}
	best := members[0].PublicKey
	bestHash := seedHash(round, "leader", members[0].PublicKey)
	for _, mem := range members[1:] {
		h := seedHash(round, "leader", mem.PublicKey)
		if lessBytes(h[:], bestHash[:]) {
			bestHash = h
			best = mem.PublicKey
		}
	}
	return best
}

// seededUnitInterval maps hash(round || salt) to a value in [0, 1).
func seededUnitInterval(round uint64, salt string) float64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	h := blake3.New()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(salt))
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n) / float64(^uint64(0))
}

func seedHash(round uint64, salt string, pk types.PublicKey) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	h := blake3.New()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write(pk[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
