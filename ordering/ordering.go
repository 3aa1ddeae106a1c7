// Package ordering derives a single deterministic transaction sequence
// from a committed set of certificates: a Kahn topological
// sort over the parent DAG restricted to that set, tying ties by
// (round ascending, author ascending), followed by in-order transaction
// extraction from each certificate's batch. Every candidate set is
// materialized into a slice and sorted with an explicit comparator
// before being walked, so Go's map iteration order never leaks into the
// output.
package ordering

import (
	"fmt"
	"sort"

	"github.com/luxfi/narwhal/types"
)

// BatchProvider serves the sealed batch referenced by a certificate's
// header, whether stored locally (worker.Worker) or persisted
// (storage.Store).
type BatchProvider interface {
	Serve(digest types.Digest) (*types.Batch, bool)
}

// Sort performs a Kahn topological sort over certs, restricted to the
// edges that stay within certs (an edge to a certificate outside the
// committed set is simply dropped, since that parent was already ordered
// in an earlier commit). Ties among simultaneously-ready certificates are
// broken by (round ascending, author ascending) — the fixed,
// stake-independent rule required for every correct validator to derive
// byte-identical output.
func Sort(certs []*types.Certificate) ([]*types.Certificate, error) {
	byDigest := make(map[types.Digest]*types.Certificate, len(certs))
	for _, c := range certs {
		byDigest[c.Digest()] = c
	}

	// inDegree counts, for each certificate, how many of its parents are
	// also present in the committed set (edges pointing "backward" in
	// commit order, i.e. cert depends on parent).
	inDegree := make(map[types.Digest]int, len(certs))
	children := make(map[types.Digest][]types.Digest) // parent -> certs that depend on it
	for _, c := range certs {
		count := 0
		for _, p := range c.Parents() {
			if _, ok := byDigest[p]; ok {
				count++
				children[p] = append(children[p], c.Digest())
			}
		}
		inDegree[c.Digest()] = count
	}

	ready := readyCerts(certs, inDegree)
	var order []*types.Certificate
	for len(ready) > 0 {
		sortReady(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, childDigest := range children[next.Digest()] {
			inDegree[childDigest]--
			if inDegree[childDigest] == 0 {
				ready = append(ready, byDigest[childDigest])
			}
		}
	}

	if len(order) != len(certs) {
		return nil, fmt.Errorf("ordering: cycle detected in committed set (%d of %d ordered)", len(order), len(certs))
	}
	return order, nil
}

func readyCerts(certs []*types.Certificate, inDegree map[types.Digest]int) []*types.Certificate {
	var ready []*types.Certificate
	for _, c := range certs {
		if inDegree[c.Digest()] == 0 {
			ready = append(ready, c)
		}
	}
	return ready
}

func sortReady(ready []*types.Certificate) {
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Round() != b.Round() {
			return a.Round() < b.Round()
		}
		return a.Author().Compare(b.Author()) < 0
	})
}

// ExtractTransactions walks order (the output of Sort) and appends every
// transaction from each certificate's batch, in the batch's original
// submission order, using provider to resolve batch contents. A
// certificate whose batch is unavailable is a caller error: ordering must
// only run once every referenced batch has been synced.
func ExtractTransactions(order []*types.Certificate, provider BatchProvider) ([]types.Transaction, error) {
	var out []types.Transaction
	for _, cert := range order {
		batch, ok := provider.Serve(cert.Header.BatchDigest)
		if !ok {
			return nil, fmt.Errorf("ordering: batch %s referenced by certificate %s is unavailable", cert.Header.BatchDigest, cert.Digest())
		}
		out = append(out, batch.Transactions...)
	}
	return out, nil
}
