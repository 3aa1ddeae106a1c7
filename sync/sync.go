// Package sync implements peer catch-up: a client that
// detects it has fallen behind, requests missing certificates from a
// peer over a Transport using the syncproto wire vocabulary, resolves
// parents recursively, and feeds the result back into a dagstore.Store,
// all under a bounded retry budget.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/narwhal/dagstore"
	"github.com/luxfi/narwhal/syncproto"
	"github.com/luxfi/narwhal/transport"
	"github.com/luxfi/narwhal/types"
)

const kindSyncRequest = "narwhal/sync-request"

// Config bounds how hard the client tries before giving up on a peer.
type Config struct {
	MaxAttempts   int
	RetryBackoff  time.Duration
	MaxParentHops int // bounds recursive parent resolution depth
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, RetryBackoff: 200 * time.Millisecond, MaxParentHops: 1000}
}

var (
	ErrRetriesExhausted = errors.New("sync: retry budget exhausted")
	ErrNoPeers          = errors.New("sync: no peers configured")
)

// BatchSource serves locally-held sealed batches to peers requesting
// them by digest (worker-sealed or persisted).
type BatchSource interface {
	Serve(digest types.Digest) (*types.Batch, bool)
}

// Client drives catch-up against a set of candidate peers.
type Client struct {
	cfg      Config
	self     types.PublicKey
	store    *dagstore.Store
	batches  BatchSource
	tp       transport.Transport
	log      log.Logger
	onServed func()
}

func New(cfg Config, self types.PublicKey, store *dagstore.Store, tp transport.Transport, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Client{cfg: cfg, self: self, store: store, tp: tp, log: logger}
}

// SetBatchSource wires the local batch lookup used to answer GetBatch and
// GetBatches requests from peers. Without one, batch requests are
// answered Empty.
func (c *Client) SetBatchSource(src BatchSource) { c.batches = src }

// SetServeHook registers fn to be called once per sync request served
// for a peer, for request-served accounting.
func (c *Client) SetServeHook(fn func()) { c.onServed = fn }

// ServeRequests registers this client's dagstore to answer sync requests
// from peers, turning it into the server side of the protocol too:
// every validator is both client and server.
func (c *Client) ServeRequests() {
	c.tp.Handle(kindSyncRequest, c.handleRequest)
}

func (c *Client) handleRequest(ctx context.Context, from types.PublicKey, msg transport.Message) (transport.Message, error) {
	req, err := syncproto.DecodeRequest(msg.Payload)
	if err != nil {
		return transport.Message{}, err
	}
	if c.onServed != nil {
		c.onServed()
	}
	var resp syncproto.Response
	switch req.Kind {
	case syncproto.GetBatch:
		resp = c.serveBatches([]types.Digest{req.Digest})
	case syncproto.GetBatches:
		resp = c.serveBatches(req.Digests)
	default:
		resp = c.store.HandleSyncRequest(req)
	}
	return transport.Message{Kind: kindSyncRequest, Payload: syncproto.EncodeResponse(resp)}, nil
}

func (c *Client) serveBatches(digests []types.Digest) syncproto.Response {
	if c.batches == nil {
		return syncproto.Response{Kind: syncproto.Empty}
	}
	var out []*types.Batch
	for _, d := range digests {
		if b, ok := c.batches.Serve(d); ok {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return syncproto.Response{Kind: syncproto.Empty}
	}
	return syncproto.Response{Kind: syncproto.Batches, Batches: out}
}

// FetchBatches requests the batches with the given digests from peer,
// returning whichever it had. Callers persist what they need; FetchBatches
// itself never mutates local state.
func (c *Client) FetchBatches(ctx context.Context, peer types.PublicKey, digests []types.Digest) ([]*types.Batch, error) {
	req := syncproto.Request{Kind: syncproto.GetBatches, Digests: digests}
	resp, err := c.requestWithRetry(ctx, peer, req)
	if err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// CatchUpMissing advertises every locally-held certificate digest to
// peer and ingests whatever the peer holds up to upToRound that is
// absent here. One round trip covers arbitrary scattered gaps, where
// CatchUpRange would re-transfer whole rounds.
func (c *Client) CatchUpMissing(ctx context.Context, peer types.PublicKey, upToRound uint64) error {
	req := syncproto.Request{
		Kind:      syncproto.GetMissingCertificates,
		Digests:   c.store.Digests(),
		UpToRound: upToRound,
	}
	resp, err := c.requestWithRetry(ctx, peer, req)
	if err != nil {
		return err
	}
	return c.ingest(ctx, peer, resp.Certs, 0)
}

// HighestRound asks peer for the highest round it holds a certificate
// for, the first step of a catch-up conversation.
func (c *Client) HighestRound(ctx context.Context, peer types.PublicKey) (uint64, error) {
	req := syncproto.Request{Kind: syncproto.GetHighestRound}
	resp, err := c.requestWithRetry(ctx, peer, req)
	if err != nil {
		return 0, err
	}
	return resp.Round, nil
}

// CatchUpRound fetches and inserts every certificate at round r from
// peer, retrying up to MaxAttempts times with RetryBackoff between
// attempts, then recursively resolves any parents still missing
// afterward.
func (c *Client) CatchUpRound(ctx context.Context, peer types.PublicKey, r uint64) error {
	req := syncproto.Request{Kind: syncproto.GetCertificatesInRound, Round: r}
	resp, err := c.requestWithRetry(ctx, peer, req)
	if err != nil {
		return err
	}
	return c.ingest(ctx, peer, resp.Certs, 0)
}

// CatchUpRange fetches every certificate in [start, end] from peer,
// honoring the server's response cap and HasMore continuation.
func (c *Client) CatchUpRange(ctx context.Context, peer types.PublicKey, start, end uint64) error {
	cursor := start
	for cursor <= end {
		req := syncproto.Request{Kind: syncproto.GetCertificatesInRange, StartRound: cursor, EndRound: end}
		resp, err := c.requestWithRetry(ctx, peer, req)
		if err != nil {
			return err
		}
		if err := c.ingest(ctx, peer, resp.Certs, 0); err != nil {
			return err
		}
		if !resp.HasMore || len(resp.Certs) == 0 {
			return nil
		}
		// Resume at the highest round actually received: every round below
		// it was served in full, while the cap may have cut that round short.
		highest := cursor
		for _, cert := range resp.Certs {
			if cert.Round() > highest {
				highest = cert.Round()
			}
		}
		if highest == cursor {
			return fmt.Errorf("sync: server reported more data without advancing past round %d", cursor)
		}
		cursor = highest
	}
	return nil
}

// ResolveMissingParents recursively fetches the parents of cert from peer
// until every ancestor is present in the local store or MaxParentHops is
// exceeded.
func (c *Client) ResolveMissingParents(ctx context.Context, peer types.PublicKey, cert *types.Certificate) error {
	return c.resolveParents(ctx, peer, cert, 0)
}

func (c *Client) resolveParents(ctx context.Context, peer types.PublicKey, cert *types.Certificate, depth int) error {
	if depth > c.cfg.MaxParentHops {
		return fmt.Errorf("sync: parent resolution exceeded %d hops", c.cfg.MaxParentHops)
	}
	missing := c.store.MissingParents(cert)
	if len(missing) == 0 {
		return nil
	}
	req := syncproto.Request{Kind: syncproto.GetCertificates, Digests: missing}
	resp, err := c.requestWithRetry(ctx, peer, req)
	if err != nil {
		return err
	}
	return c.ingest(ctx, peer, resp.Certs, depth+1)
}

// ingest inserts each fetched certificate, recursively resolving any of
// its own still-missing parents before giving up at depth.
func (c *Client) ingest(ctx context.Context, peer types.PublicKey, certs []*types.Certificate, depth int) error {
	for _, cert := range certs {
		err := c.store.Insert(cert)
		switch {
		case err == nil:
		case errors.Is(err, dagstore.ErrMissingParent):
			if resolveErr := c.resolveParents(ctx, peer, cert, depth+1); resolveErr != nil {
				return resolveErr
			}
			if err := c.store.Insert(cert); err != nil && !errors.Is(err, dagstore.ErrMissingParent) {
				return err
			}
		default:
			c.log.Debug("sync: rejecting certificate from peer")
		}
	}
	return nil
}

func (c *Client) requestWithRetry(ctx context.Context, peer types.PublicKey, req syncproto.Request) (syncproto.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return syncproto.Response{}, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		msg, err := c.tp.Request(ctx, peer, transport.Message{Kind: kindSyncRequest, Payload: syncproto.EncodeRequest(req)})
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := syncproto.DecodeResponse(msg.Payload)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Kind == syncproto.Error {
			lastErr = fmt.Errorf("sync: peer error: %s", resp.Msg)
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = ErrRetriesExhausted
	}
	return syncproto.Response{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
