// Package client implements the node-to-node transport: replica reads
// and writes, gossip exchange, and Merkle queries over JSON/HTTP.
// Requests addressed to the local node short-circuit to local storage.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/storage"
)

// Wire types shared with the server's internal endpoints. Token fields
// use string encoding because JSON numbers cannot carry full uint64
// precision.

// ReplicaPayload is the body of a replica write and of a replica read
// response.
type ReplicaPayload struct {
	Records []model.ValueRecord `json:"records"`
}

// GossipPayload carries one side of a gossip exchange.
type GossipPayload struct {
	Members []model.Member `json:"members"`
}

// DigestRequest asks for the digest of one token range.
type DigestRequest struct {
	Start uint64 `json:"start,string"`
	End   uint64 `json:"end,string"`
}

// DigestResponse carries a range digest.
type DigestResponse struct {
	Digest []byte `json:"digest"`
}

// ScanRequest asks for one page of a token-range scan.
type ScanRequest struct {
	Start  uint64 `json:"start,string"`
	End    uint64 `json:"end,string"`
	Resume []byte `json:"resume,omitempty"`
	Limit  int    `json:"limit"`
}

// ScanEntry is one key's frontier in a scan page.
type ScanEntry struct {
	Key     []byte              `json:"key"`
	Records []model.ValueRecord `json:"records"`
}

// ScanResponse is one page of a token-range scan.
type ScanResponse struct {
	Entries []ScanEntry `json:"entries"`
	Next    []byte      `json:"next,omitempty"`
}

// HTTP talks to peer replicas over their internal JSON endpoints.
type HTTP struct {
	selfID string
	local  *storage.Replica
	client *http.Client
	logger *zap.Logger
}

// NewHTTP creates the peer transport for the local node. Calls addressed
// to selfID bypass the network and hit local directly.
func NewHTTP(selfID string, local *storage.Replica, timeout time.Duration, logger *zap.Logger) *HTTP {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{
		selfID: selfID,
		local:  local,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// WriteReplica applies records on node's local copy of key.
func (c *HTTP) WriteReplica(ctx context.Context, node model.Member, key []byte, records []model.ValueRecord) error {
	if node.NodeID == c.selfID {
		return c.local.Apply(ctx, key, records)
	}
	url := fmt.Sprintf("http://%s/internal/v1/replica/%s", node.Address, encodeKey(key))
	return c.post(ctx, url, ReplicaPayload{Records: records}, nil)
}

// ReadReplica fetches node's frontier for key. A missing key is an empty
// frontier, not an error.
func (c *HTTP) ReadReplica(ctx context.Context, node model.Member, key []byte) ([]model.ValueRecord, error) {
	if node.NodeID == c.selfID {
		return c.local.Read(ctx, key)
	}
	url := fmt.Sprintf("http://%s/internal/v1/replica/%s", node.Address, encodeKey(key))
	var payload ReplicaPayload
	if err := c.get(ctx, url, &payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}

// Exchange implements membership.Transport: push the local view, pull
// the peer's.
func (c *HTTP) Exchange(ctx context.Context, peer model.Member, local []model.Member) ([]model.Member, error) {
	url := fmt.Sprintf("http://%s/internal/v1/gossip", peer.Address)
	var reply GossipPayload
	if err := c.post(ctx, url, GossipPayload{Members: local}, &reply); err != nil {
		return nil, err
	}
	return reply.Members, nil
}

// RangeDigest fetches node's digest over one token range.
func (c *HTTP) RangeDigest(ctx context.Context, node model.Member, r ring.TokenRange) ([]byte, error) {
	if node.NodeID == c.selfID {
		return c.local.Engine().Digest(ctx, r.Start, r.End)
	}
	url := fmt.Sprintf("http://%s/internal/v1/merkle/digest", node.Address)
	var reply DigestResponse
	if err := c.post(ctx, url, DigestRequest{Start: r.Start, End: r.End}, &reply); err != nil {
		return nil, err
	}
	return reply.Digest, nil
}

// PullRange fetches one page of node's entries in a token range.
func (c *HTTP) PullRange(ctx context.Context, node model.Member, r ring.TokenRange, resume []byte, limit int) ([]storage.KeyRecords, []byte, error) {
	if node.NodeID == c.selfID {
		return c.local.Engine().ScanRange(ctx, r.Start, r.End, resume, limit)
	}
	url := fmt.Sprintf("http://%s/internal/v1/range/scan", node.Address)
	var reply ScanResponse
	err := c.post(ctx, url, ScanRequest{Start: r.Start, End: r.End, Resume: resume, Limit: limit}, &reply)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]storage.KeyRecords, 0, len(reply.Entries))
	for _, e := range reply.Entries {
		entries = append(entries, storage.KeyRecords{Key: e.Key, Records: e.Records})
	}
	return entries, reply.Next, nil
}

func (c *HTTP) post(ctx context.Context, url string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTP) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTP) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("peer returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey reverses the key encoding used in internal URLs.
func DecodeKey(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}

// NodeWriter adapts the transport to by-node-ID delivery for hint
// replay and read repair workers.
type NodeWriter struct {
	client *HTTP
	table  *membership.Table
}

// NewNodeWriter wires a NodeWriter over the transport and membership.
func NewNodeWriter(client *HTTP, table *membership.Table) *NodeWriter {
	return &NodeWriter{client: client, table: table}
}

// WriteReplica resolves nodeID through membership and delivers records.
func (w *NodeWriter) WriteReplica(ctx context.Context, nodeID string, key []byte, records []model.ValueRecord) error {
	member, ok := w.table.Member(nodeID)
	if !ok {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	return w.client.WriteReplica(ctx, member, key, records)
}
