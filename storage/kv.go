package storage

// KV is the pluggable opaque key-value storage collaborator:
// the consensus core never assumes anything about the engine behind it
// beyond ordered byte-range scans, so any LSM or B-tree store can back
// it. pebblekv.Store is the default production adapter.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Scan invokes fn for every key with the given prefix, in ascending
	// key order, until fn returns false or the prefix is exhausted.
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	Close() error
}
