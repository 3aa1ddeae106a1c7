package storage

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luxfi/narwhal/types"
)

// Snapshot is the full checkpointed state written every K rounds: every
// certificate accepted up to Round, the committed-anchor ledger, and
// each validator's reputation sample window.
type Snapshot struct {
	Round             uint64
	Certificates      []*types.Certificate
	CommittedAnchors  map[uint64]types.Digest
	ReputationWindows map[types.PublicKey][]float64
}

func encodeSnapshot(s Snapshot) []byte {
	var b []byte
	b = append(b, snapshotVersion)
	b = protowire.AppendVarint(b, s.Round)

	b = protowire.AppendVarint(b, uint64(len(s.Certificates)))
	for _, c := range s.Certificates {
		b = protowire.AppendBytes(b, types.EncodeCertificate(c))
	}

	b = protowire.AppendVarint(b, uint64(len(s.CommittedAnchors)))
	for round, digest := range s.CommittedAnchors {
		b = protowire.AppendVarint(b, round)
		b = append(b, digest[:]...)
	}

	b = protowire.AppendVarint(b, uint64(len(s.ReputationWindows)))
	for pk, samples := range s.ReputationWindows {
		b = append(b, pk[:]...)
		b = protowire.AppendVarint(b, uint64(len(samples)))
		for _, v := range samples {
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		}
	}
	return b
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if len(b) == 0 || b[0] != snapshotVersion {
		return s, fmt.Errorf("storage: unsupported snapshot version")
	}
	b = b[1:]

	var err error
	s.Round, b, err = consumeVarintLocal(b)
	if err != nil {
		return s, err
	}

	var certCount uint64
	certCount, b, err = consumeVarintLocal(b)
	if err != nil {
		return s, err
	}
	s.Certificates = make([]*types.Certificate, 0, certCount)
	for i := uint64(0); i < certCount; i++ {
		var raw []byte
		raw, b, err = consumeBytesLocal(b)
		if err != nil {
			return s, err
		}
		cert, err := types.DecodeCertificate(raw)
		if err != nil {
			return s, err
		}
		s.Certificates = append(s.Certificates, cert)
	}

	var committedCount uint64
	committedCount, b, err = consumeVarintLocal(b)
	if err != nil {
		return s, err
	}
	s.CommittedAnchors = make(map[uint64]types.Digest, committedCount)
	for i := uint64(0); i < committedCount; i++ {
		var round uint64
		round, b, err = consumeVarintLocal(b)
		if err != nil {
			return s, err
		}
		if len(b) < len(types.Digest{}) {
			return s, fmt.Errorf("storage: short buffer for committed anchor digest")
		}
		var digest types.Digest
		copy(digest[:], b[:len(digest)])
		b = b[len(digest):]
		s.CommittedAnchors[round] = digest
	}

	var repCount uint64
	repCount, b, err = consumeVarintLocal(b)
	if err != nil {
		return s, err
	}
	s.ReputationWindows = make(map[types.PublicKey][]float64, repCount)
	for i := uint64(0); i < repCount; i++ {
		if len(b) < len(types.PublicKey{}) {
			return s, fmt.Errorf("storage: short buffer for reputation public key")
		}
		var pk types.PublicKey
		copy(pk[:], b[:len(pk)])
		b = b[len(pk):]

		var sampleCount uint64
		sampleCount, b, err = consumeVarintLocal(b)
		if err != nil {
			return s, err
		}
		samples := make([]float64, 0, sampleCount)
		for j := uint64(0); j < sampleCount; j++ {
			var bits uint64
			var n int
			bits, n = protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, fmt.Errorf("storage: malformed reputation sample")
			}
			b = b[n:]
			samples = append(samples, math.Float64frombits(bits))
		}
		s.ReputationWindows[pk] = samples
	}

	if len(b) != 0 {
		return s, fmt.Errorf("storage: trailing bytes in encoded snapshot")
	}
	return s, nil
}

func consumeVarintLocal(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, fmt.Errorf("storage: malformed varint")
	}
	return v, b[n:], nil
}

func consumeBytesLocal(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, fmt.Errorf("storage: malformed length-delimited field")
	}
	return v, b[n:], nil
}
