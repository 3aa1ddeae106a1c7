// Package dagstore is the indexed in-memory DAG of certificates:
// digest, round, and (author, round) indexes, parent/quorum validation
// on insert, equivocation detection, and path queries.
package dagstore

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/luxfi/log"
	"github.com/luxfi/narwhal/signer"
	"github.com/luxfi/narwhal/syncproto"
	"github.com/luxfi/narwhal/types"
)

var (
	ErrMissingParent            = errors.New("dagstore: missing parent certificate")
	ErrInsufficientParentStake  = errors.New("dagstore: parent set stake below quorum")
	ErrInvalidSignature         = errors.New("dagstore: certificate signature invalid")
	ErrNotInCommittee           = errors.New("dagstore: signer not in committee")
	ErrEquivocation             = errors.New("dagstore: equivocating certificate")
	ErrMalformedCertificate     = errors.New("dagstore: malformed certificate")
)

type authorRoundKey struct {
	author types.PublicKey
	round  uint64
}

// Store is the DAG store for one validator.
type Store struct {
	mu sync.RWMutex

	committee *types.Committee
	sign      signer.Signer
	log       log.Logger

	byDigest     map[types.Digest]*types.Certificate
	byRound      map[uint64]map[types.Digest]*types.Certificate
	byAuthorRnd  map[authorRoundKey]types.Digest // the accepted certificate, if any
	highestRound uint64

	// quarantine holds certificates awaiting parents, keyed by the
	// certificate's own digest; waitingOn maps a missing parent digest to
	// the quarantined certificates that need it.
	quarantine map[types.Digest]*types.Certificate
	waitingOn  map[types.Digest]map[types.Digest]bool

	evidence *EvidenceStore
}

// New creates an empty Store for a committee, verifying certificates with
// sign and logging through logger.
func New(committee *types.Committee, sign signer.Signer, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Store{
		committee:   committee,
		sign:        sign,
		log:         logger,
		byDigest:    make(map[types.Digest]*types.Certificate),
		byRound:     make(map[uint64]map[types.Digest]*types.Certificate),
		byAuthorRnd: make(map[authorRoundKey]types.Digest),
		quarantine:  make(map[types.Digest]*types.Certificate),
		waitingOn:   make(map[types.Digest]map[types.Digest]bool),
		evidence:    NewEvidenceStore(),
	}
}

// Evidence returns the store's equivocation evidence, kept in a parallel
// store.
func (s *Store) Evidence() *EvidenceStore { return s.evidence }

// verify checks structural and cryptographic validity shared by Insert and
// sync ingestion. It does not check parent
// presence or duplicate/equivocation state.
func (s *Store) verify(cert *types.Certificate) error {
	if cert.Header.IsGenesis() && len(cert.Header.Parents) != 0 {
		return fmt.Errorf("%w: genesis header carries parents", ErrMalformedCertificate)
	}
	if !cert.Header.IsGenesis() && len(cert.Header.Parents) == 0 {
		return fmt.Errorf("%w: header at round %d carries no parents", ErrMalformedCertificate, cert.Header.Round)
	}
	if !s.committee.Has(cert.Header.Author) {
		return ErrNotInCommittee
	}
	if len(cert.Signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrMalformedCertificate)
	}
	rawKeys := make([][]byte, 0, len(cert.Signers))
	for _, signerKey := range cert.Signers {
		member, ok := s.committee.Member(signerKey)
		if !ok {
			return ErrNotInCommittee
		}
		rawKeys = append(rawKeys, member.RawKey)
	}
	if cert.SignerStake(s.committee) < s.committee.Quorum() {
		return fmt.Errorf("%w: signer stake below quorum", ErrInsufficientParentStake)
	}
	agg := signer.Aggregated{Bytes: cert.AggregatedSignature, Signers: cert.Signers}
	headerDigest := cert.Header.Digest()
	if !s.sign.VerifyAggregated(headerDigest[:], agg, rawKeys) {
		return ErrInvalidSignature
	}
	return nil
}

// Insert validates and inserts a certificate. It is idempotent: inserting
// the same digest twice succeeds both times with identical resulting
// state. A second, conflicting certificate for an (author, round) already
// accepted is recorded as evidence and rejected with ErrEquivocation; it
// is never merged into the canonical DAG.
func (s *Store) Insert(cert *types.Certificate) error {
	if err := s.verify(cert); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(cert)
}

func (s *Store) insertLocked(cert *types.Certificate) error {
	digest := cert.Digest()
	if _, dup := s.byDigest[digest]; dup {
		return nil // idempotent
	}

	key := authorRoundKey{author: cert.Header.Author, round: cert.Header.Round}
	if existing, ok := s.byAuthorRnd[key]; ok && existing != digest {
		s.evidence.Record(cert.Header.Author, cert.Header.Round, digest)
		s.log.Warn("equivocation detected")
		return ErrEquivocation
	}

	if !cert.Header.IsGenesis() {
		var missing []types.Digest
		var parentStake types.Stake
		seenAuthors := make(map[types.PublicKey]bool)
		for _, p := range cert.Header.Parents {
			parent, ok := s.byDigest[p]
			if !ok {
				missing = append(missing, p)
				continue
			}
			if !seenAuthors[parent.Header.Author] {
				seenAuthors[parent.Header.Author] = true
				if m, ok := s.committee.Member(parent.Header.Author); ok {
					parentStake += m.Stake
				}
			}
		}
		if len(missing) > 0 {
			s.quarantineLocked(cert, missing)
			return ErrMissingParent
		}
		if parentStake < s.committee.Quorum() {
			return ErrInsufficientParentStake
		}
	}

	s.acceptLocked(cert, digest, key)
	s.resolveWaitersLocked(digest)
	return nil
}

func (s *Store) acceptLocked(cert *types.Certificate, digest types.Digest, key authorRoundKey) {
	s.byDigest[digest] = cert
	if s.byRound[cert.Header.Round] == nil {
		s.byRound[cert.Header.Round] = make(map[types.Digest]*types.Certificate)
	}
	s.byRound[cert.Header.Round][digest] = cert
	s.byAuthorRnd[key] = digest
	if cert.Header.Round > s.highestRound {
		s.highestRound = cert.Header.Round
	}
}

func (s *Store) quarantineLocked(cert *types.Certificate, missing []types.Digest) {
	digest := cert.Digest()
	s.quarantine[digest] = cert
	for _, m := range missing {
		if s.waitingOn[m] == nil {
			s.waitingOn[m] = make(map[types.Digest]bool)
		}
		s.waitingOn[m][digest] = true
	}
}

// resolveWaitersLocked retries every quarantined certificate that was
// waiting on the just-inserted digest.
func (s *Store) resolveWaitersLocked(resolved types.Digest) {
	waiters, ok := s.waitingOn[resolved]
	if !ok {
		return
	}
	delete(s.waitingOn, resolved)
	for digest := range waiters {
		cert, ok := s.quarantine[digest]
		if !ok {
			continue
		}
		delete(s.quarantine, digest)
		_ = s.insertLocked(cert) // re-quarantines again if other parents still missing
	}
}

// Get returns a certificate by digest.
func (s *Store) Get(digest types.Digest) (*types.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byDigest[digest]
	return c, ok
}

// Round returns every accepted certificate at round r, in no particular
// order.
func (s *Store) Round(r uint64) []*types.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Values(s.byRound[r])
}

// AuthorAt returns the accepted certificate for (author, round), if any.
func (s *Store) AuthorAt(author types.PublicKey, round uint64) (*types.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	digest, ok := s.byAuthorRnd[authorRoundKey{author: author, round: round}]
	if !ok {
		return nil, false
	}
	c, ok := s.byDigest[digest]
	return c, ok
}

// HasAllParents reports whether every parent of cert is already accepted.
func (s *Store) HasAllParents(cert *types.Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range cert.Header.Parents {
		if _, ok := s.byDigest[p]; !ok {
			return false
		}
	}
	return true
}

// MissingParents returns the parents of cert not yet accepted into the
// DAG, for driving sync requests.
func (s *Store) MissingParents(cert *types.Certificate) []types.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []types.Digest
	for _, p := range cert.Header.Parents {
		if _, ok := s.byDigest[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// HasPath reports whether `to` is reachable from `from` by following
// parent edges — i.e. `to` is a causal ancestor of `from`. Since every
// edge crosses exactly one round, a BFS bounded by the round distance
// between `from` and `to` suffices.
func (s *Store) HasPath(from, to types.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPathLocked(from, to)
}

func (s *Store) hasPathLocked(from, to types.Digest) bool {
	if from == to {
		return true
	}
	if _, ok := s.byDigest[from]; !ok {
		return false
	}
	targetCert, ok := s.byDigest[to]
	if !ok {
		return false
	}
	targetRound := targetCert.Header.Round

	visited := map[types.Digest]bool{from: true}
	queue := []types.Digest{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		curCert, ok := s.byDigest[cur]
		if !ok {
			continue
		}
		if curCert.Header.Round <= targetRound && cur != from {
			continue // cannot reach an ancestor at or below target's round through a shorter path
		}
		for _, p := range curCert.Header.Parents {
			if visited[p] {
				continue
			}
			if pc, ok := s.byDigest[p]; ok && pc.Header.Round >= targetRound {
				visited[p] = true
				queue = append(queue, p)
			} else if p == to {
				return true
			}
		}
	}
	return false
}

// CausalHistory returns every certificate reachable from from by
// following parent edges, excluding from itself and any digest already
// present in committed, in no particular order. The caller is expected to pass the
// result through ordering.Sort before extracting transactions.
func (s *Store) CausalHistory(from types.Digest, committed map[types.Digest]bool) []*types.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Certificate
	visited := map[types.Digest]bool{from: true}
	queue := []types.Digest{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curCert, ok := s.byDigest[cur]
		if !ok {
			continue
		}
		for _, p := range curCert.Header.Parents {
			if visited[p] {
				continue
			}
			visited[p] = true
			if committed[p] {
				continue
			}
			parentCert, ok := s.byDigest[p]
			if !ok {
				continue
			}
			out = append(out, parentCert)
			queue = append(queue, p)
		}
	}
	return out
}

// QuarantineCount returns the number of certificates currently quarantined
// awaiting missing parents, for operational visibility.
func (s *Store) QuarantineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quarantine)
}

// Digests returns the digest of every accepted certificate, for
// advertising local state in a GetMissingCertificates request.
func (s *Store) Digests() []types.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Keys(s.byDigest)
}

// HighestRound returns the highest round with at least one accepted
// certificate.
func (s *Store) HighestRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestRound
}

// CertificatesAtRound is an alias for Round.
func (s *Store) CertificatesAtRound(r uint64) []*types.Certificate { return s.Round(r) }

// HandleSyncRequest serves the wire-level sync protocol: the
// DAG store never serves uncertified headers, only full certificates.
func (s *Store) HandleSyncRequest(req syncproto.Request) syncproto.Response {
	switch req.Kind {
	case syncproto.GetCertificates:
		return s.respondCertificates(req.Digests)
	case syncproto.GetCertificatesInRound:
		return capCertificates(s.Round(req.Round))
	case syncproto.GetCertificatesInRange:
		return s.respondRange(req.StartRound, req.EndRound)
	case syncproto.GetHighestRound:
		return syncproto.Response{Kind: syncproto.HighestRound, Round: s.HighestRound()}
	case syncproto.GetMissingCertificates:
		return s.respondMissing(req.Digests, req.UpToRound)
	default:
		return syncproto.Response{Kind: syncproto.Error, Msg: "dagstore: unsupported request kind"}
	}
}

func (s *Store) respondCertificates(digests []types.Digest) syncproto.Response {
	var out []*types.Certificate
	for _, d := range digests {
		if c, ok := s.Get(d); ok {
			out = append(out, c)
		}
	}
	return capCertificates(out)
}

func (s *Store) respondRange(start, end uint64) syncproto.Response {
	var out []*types.Certificate
	for r := start; r <= end; r++ {
		out = append(out, s.Round(r)...)
	}
	return capCertificates(out)
}

func (s *Store) respondMissing(known []types.Digest, upToRound uint64) syncproto.Response {
	knownSet := make(map[types.Digest]bool, len(known))
	for _, d := range known {
		knownSet[d] = true
	}
	var out []*types.Certificate
	for r := uint64(0); r <= upToRound; r++ {
		for _, c := range s.Round(r) {
			if !knownSet[c.Digest()] {
				out = append(out, c)
			}
		}
	}
	return capCertificates(out)
}

func capCertificates(certs []*types.Certificate) syncproto.Response {
	if len(certs) > syncproto.DefaultResponseCap {
		return syncproto.Response{Kind: syncproto.Certificates, Certs: certs[:syncproto.DefaultResponseCap], HasMore: true}
	}
	return syncproto.Response{Kind: syncproto.Certificates, Certs: certs, HasMore: false}
}
