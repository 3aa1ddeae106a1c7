// Package storage implements the persistence and recovery layer: a
// per-certificate/per-batch write path over a pluggable KV collaborator,
// periodic compressed checkpoints, and the three recovery strategies
// (FromScratch, FromCheckpoint, Hybrid).
package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/luxfi/log"

	"github.com/luxfi/narwhal/types"
)

const (
	certPrefix       = "dag/certificates/round/"
	batchPrefix      = "dag/batches/digest/"
	committedPrefix  = "dag/committed/round/"
	checkpointPrefix = "dag/checkpoints/round/"
	metadataKey      = "dag/metadata/id/current"

	// snapshotVersion is a one-byte format tag prefixed to every encoded
	// checkpoint, so a future format change can be detected on read
	// instead of silently misparsed.
	snapshotVersion byte = 1
)

// Store persists certificates, batches, and periodic checkpoints to a KV
// collaborator.
type Store struct {
	kv  KV
	log log.Logger
}

func New(kv KV, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Store{kv: kv, log: logger}
}

func certKey(round uint64, digest types.Digest) []byte {
	return []byte(fmt.Sprintf("%s%020d/digest/%s", certPrefix, round, digest))
}

func roundPrefix(round uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/digest/", certPrefix, round))
}

func batchKey(digest types.Digest) []byte {
	return []byte(batchPrefix + digest.String())
}

func committedKey(round uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", committedPrefix, round))
}

func checkpointKey(round uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", checkpointPrefix, round))
}

// PersistCertificate writes cert under its round/digest key. Idempotent:
// overwriting with the same certificate is a no-op in effect.
func (s *Store) PersistCertificate(cert *types.Certificate) error {
	if err := s.kv.Put(certKey(cert.Round(), cert.Digest()), types.EncodeCertificate(cert)); err != nil {
		return err
	}
	s.bumpMetadata(func(m *Metadata) { m.CertificatesWritten++ })
	return nil
}

// PersistBatch writes batch under its digest key.
func (s *Store) PersistBatch(batch *types.Batch) error {
	if err := s.kv.Put(batchKey(batch.Digest()), types.EncodeBatch(batch)); err != nil {
		return err
	}
	s.bumpMetadata(func(m *Metadata) { m.BatchesWritten++ })
	return nil
}

// Serve implements ordering.BatchProvider by reading a persisted batch.
func (s *Store) Serve(digest types.Digest) (*types.Batch, bool) {
	raw, ok, err := s.kv.Get(batchKey(digest))
	if err != nil || !ok {
		return nil, false
	}
	batch, err := types.DecodeBatch(raw)
	if err != nil {
		return nil, false
	}
	return batch, true
}

// MarkCommitted records round's anchor digest as committed.
func (s *Store) MarkCommitted(round uint64, anchor types.Digest) error {
	if err := s.kv.Put(committedKey(round), anchor[:]); err != nil {
		return err
	}
	s.bumpMetadata(func(m *Metadata) { m.AnchorsCommitted++ })
	return nil
}

// CertificatesAtRound loads every certificate persisted at round.
func (s *Store) CertificatesAtRound(round uint64) ([]*types.Certificate, error) {
	var out []*types.Certificate
	var scanErr error
	err := s.kv.Scan(roundPrefix(round), func(_, value []byte) bool {
		cert, err := types.DecodeCertificate(value)
		if err != nil {
			scanErr = err
			return false
		}
		out = append(out, cert)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// AllCertificates loads every persisted certificate, ascending by round
// (the key layout's lexicographic order matches round order because
// round is zero-padded).
func (s *Store) AllCertificates() ([]*types.Certificate, error) {
	var out []*types.Certificate
	var scanErr error
	err := s.kv.Scan([]byte(certPrefix), func(_, value []byte) bool {
		cert, err := types.DecodeCertificate(value)
		if err != nil {
			scanErr = err
			return false
		}
		out = append(out, cert)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// CommittedAnchors loads every persisted (round -> anchor digest) record.
func (s *Store) CommittedAnchors() (map[uint64]types.Digest, error) {
	out := make(map[uint64]types.Digest)
	err := s.kv.Scan([]byte(committedPrefix), func(key, value []byte) bool {
		var round uint64
		fmt.Sscanf(string(key[len(committedPrefix):]), "%020d", &round)
		var digest types.Digest
		copy(digest[:], value)
		out[round] = digest
		return true
	})
	return out, err
}

// zstdEncoder/Decoder are stateless and safe for reuse across calls.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(b []byte) []byte {
	return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)))
}

func decompress(b []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(b, nil)
}
