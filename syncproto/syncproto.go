// Package syncproto defines the wire vocabulary for peer catch-up: the
// SyncRequest and SyncResponse variants. It has no logic of
// its own — it exists so both the DAG store (which serves requests) and
// the sync client/server (which issues them over a Transport) can share
// one message shape without an import cycle between them.
package syncproto

import "github.com/luxfi/narwhal/types"

// RequestKind enumerates the concrete SyncRequest variants.
type RequestKind int

const (
	GetCertificates RequestKind = iota
	GetCertificatesInRound
	GetCertificatesInRange
	GetBatch
	GetBatches
	GetHighestRound
	GetMissingCertificates
)

// Request is a tagged union of every SyncRequest variant. Only the fields
// relevant to Kind are populated.
type Request struct {
	Kind RequestKind

	Digests    []types.Digest // GetCertificates, GetBatches
	Digest     types.Digest   // GetBatch
	Round      uint64         // GetCertificatesInRound
	StartRound uint64         // GetCertificatesInRange
	EndRound   uint64         // GetCertificatesInRange
	UpToRound  uint64         // GetMissingCertificates
}

// ResponseKind enumerates the concrete SyncResponse variants.
type ResponseKind int

const (
	Certificates ResponseKind = iota
	Batches
	HighestRound
	Empty
	Error
)

// Response is a tagged union of every SyncResponse variant.
type Response struct {
	Kind ResponseKind

	Certs   []*types.Certificate // Certificates
	HasMore bool                 // Certificates: response cap continuation flag
	Batches []*types.Batch       // Batches
	Round   uint64               // HighestRound
	Msg     string               // Error
}

// DefaultResponseCap is the maximum number of certificates served in a
// single Certificates response before HasMore is set.
const DefaultResponseCap = 1000
