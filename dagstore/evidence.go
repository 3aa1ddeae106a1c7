package dagstore

import (
	"sync"

	"github.com/luxfi/narwhal/types"
)

// Entry records one instance of an author signing two distinct
// certificates for the same round.
type Entry struct {
	Author    types.PublicKey
	Round     uint64
	Digests   []types.Digest // every conflicting digest rejected for (Author, Round); the accepted certificate's digest is not included
}

// EvidenceStore accumulates equivocation evidence, kept separate from the
// canonical DAG so a future slashing or reputation-penalty pass can
// consume it without touching consensus state.
type EvidenceStore struct {
	mu      sync.Mutex
	entries map[authorRoundKey]*Entry
}

func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{entries: make(map[authorRoundKey]*Entry)}
}

// Record adds digest to the evidence entry for (author, round), creating
// it if necessary. It is idempotent for a repeated digest.
func (e *EvidenceStore) Record(author types.PublicKey, round uint64, digest types.Digest) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := authorRoundKey{author: author, round: round}
	entry, ok := e.entries[key]
	if !ok {
		entry = &Entry{Author: author, Round: round}
		e.entries[key] = entry
	}
	for _, d := range entry.Digests {
		if d == digest {
			return
		}
	}
	entry.Digests = append(entry.Digests, digest)
}

// For returns the evidence entry for (author, round), if any equivocation
// has been observed there.
func (e *EvidenceStore) For(author types.PublicKey, round uint64) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[authorRoundKey{author: author, round: round}]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Authors returns every author with at least one recorded equivocation.
func (e *EvidenceStore) Authors() []types.PublicKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[types.PublicKey]bool)
	var out []types.PublicKey
	for k := range e.entries {
		if !seen[k.author] {
			seen[k.author] = true
			out = append(out, k.author)
		}
	}
	return out
}
