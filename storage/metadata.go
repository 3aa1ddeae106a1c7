package storage

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Metadata is the singleton bookkeeping record kept under
// dag/metadata/id/current: running write counters and the wall-clock
// timestamp of the last update. It is advisory only — recovery never
// trusts it over the certificate records themselves.
type Metadata struct {
	CertificatesWritten uint64
	BatchesWritten      uint64
	AnchorsCommitted    uint64
	UpdatedAtUnixNano   int64
}

func encodeMetadata(m Metadata) []byte {
	var b []byte
	b = protowire.AppendVarint(b, m.CertificatesWritten)
	b = protowire.AppendVarint(b, m.BatchesWritten)
	b = protowire.AppendVarint(b, m.AnchorsCommitted)
	b = protowire.AppendVarint(b, uint64(m.UpdatedAtUnixNano))
	return b
}

func decodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	var err error
	m.CertificatesWritten, b, err = consumeVarintLocal(b)
	if err != nil {
		return m, err
	}
	m.BatchesWritten, b, err = consumeVarintLocal(b)
	if err != nil {
		return m, err
	}
	m.AnchorsCommitted, b, err = consumeVarintLocal(b)
	if err != nil {
		return m, err
	}
	var ts uint64
	ts, b, err = consumeVarintLocal(b)
	if err != nil {
		return m, err
	}
	m.UpdatedAtUnixNano = int64(ts)
	if len(b) != 0 {
		return m, fmt.Errorf("storage: trailing bytes in encoded metadata")
	}
	return m, nil
}

// Metadata loads the current metadata record; a store that has never
// written anything returns a zero Metadata.
func (s *Store) Metadata() (Metadata, error) {
	raw, ok, err := s.kv.Get([]byte(metadataKey))
	if err != nil || !ok {
		return Metadata{}, err
	}
	return decodeMetadata(raw)
}

// bumpMetadata applies update to the current metadata record and writes
// it back. Failures are logged, never propagated: the metadata record is
// bookkeeping, not consensus state.
func (s *Store) bumpMetadata(update func(*Metadata)) {
	m, err := s.Metadata()
	if err != nil {
		s.log.Warn("storage: reading metadata record failed")
		return
	}
	update(&m)
	m.UpdatedAtUnixNano = time.Now().UnixNano()
	if err := s.kv.Put([]byte(metadataKey), encodeMetadata(m)); err != nil {
		s.log.Warn("storage: writing metadata record failed")
	}
}
