package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/client"
	"github.com/driftdb/driftdb/internal/coordinator"
	"github.com/driftdb/driftdb/internal/kverrors"
	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/storage"
)

// Handlers holds the HTTP handlers for both the public KV surface and
// the internal peer endpoints.
type Handlers struct {
	coord    *coordinator.Coordinator
	replica  *storage.Replica
	gossiper *membership.Gossiper
	table    *membership.Table
	logger   *zap.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(
	coord *coordinator.Coordinator,
	replica *storage.Replica,
	gossiper *membership.Gossiper,
	table *membership.Table,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		coord:    coord,
		replica:  replica,
		gossiper: gossiper,
		table:    table,
		logger:   logger,
	}
}

// putRequest is the body of PUT /v1/kv/{key}.
type putRequest struct {
	Value   []byte            `json:"value"`
	Context model.VectorClock `json:"context"`
	Quorum  int               `json:"quorum,omitempty"`
}

// deleteRequest is the body of DELETE /v1/kv/{key}.
type deleteRequest struct {
	Context model.VectorClock `json:"context"`
	Quorum  int               `json:"quorum,omitempty"`
}

// PutKey handles PUT /v1/kv/{key}.
func (h *Handlers) PutKey(w http.ResponseWriter, r *http.Request) {
	key := []byte(mux.Vars(r)["key"])

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
		return
	}

	result, err := h.coord.Put(r.Context(), key, req.Value, coordinator.WriteOptions{
		Quorum:    req.Quorum,
		Context:   req.Context,
		RequestID: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetKey handles GET /v1/kv/{key}.
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	key := []byte(mux.Vars(r)["key"])

	quorum := 0
	if q := r.URL.Query().Get("quorum"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed < 1 {
			h.writeError(w, kverrors.InvalidArgument("quorum must be a positive integer", err))
			return
		}
		quorum = parsed
	}

	result, err := h.coord.Get(r.Context(), key, coordinator.ReadOptions{Quorum: quorum})
	if err != nil {
		// A tombstoned key answers not-found but must still hand the
		// caller the causal context needed to re-create it.
		if result != nil && len(result.Context.Entries) > 0 {
			var kv *kverrors.KVError
			if errors.As(err, &kv) {
				kv.WithDetail("context", result.Context)
			}
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DeleteKey handles DELETE /v1/kv/{key}.
func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := []byte(mux.Vars(r)["key"])

	var req deleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
			return
		}
	}

	result, err := h.coord.Delete(r.Context(), key, coordinator.WriteOptions{
		Quorum:    req.Quorum,
		Context:   req.Context,
		RequestID: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// WriteReplica handles POST /internal/v1/replica/{key}: apply records on
// the local copy.
func (h *Handlers) WriteReplica(w http.ResponseWriter, r *http.Request) {
	key, err := client.DecodeKey(mux.Vars(r)["key"])
	if err != nil {
		h.writeError(w, kverrors.InvalidArgument("malformed key encoding", err))
		return
	}
	var payload client.ReplicaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
		return
	}
	if err := h.replica.Apply(r.Context(), key, payload.Records); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReadReplica handles GET /internal/v1/replica/{key}: return the local
// frontier.
func (h *Handlers) ReadReplica(w http.ResponseWriter, r *http.Request) {
	key, err := client.DecodeKey(mux.Vars(r)["key"])
	if err != nil {
		h.writeError(w, kverrors.InvalidArgument("malformed key encoding", err))
		return
	}
	records, err := h.replica.Read(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, client.ReplicaPayload{Records: records})
}

// Gossip handles POST /internal/v1/gossip: merge the caller's view and
// answer with ours.
func (h *Handlers) Gossip(w http.ResponseWriter, r *http.Request) {
	var payload client.GossipPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
		return
	}
	reply := h.gossiper.HandleExchange(payload.Members)
	h.writeJSON(w, http.StatusOK, client.GossipPayload{Members: reply})
}

// MerkleDigest handles POST /internal/v1/merkle/digest.
func (h *Handlers) MerkleDigest(w http.ResponseWriter, r *http.Request) {
	var req client.DigestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
		return
	}
	digest, err := h.replica.Engine().Digest(r.Context(), req.Start, req.End)
	if err != nil {
		h.writeError(w, kverrors.StorageFailed("failed to compute range digest", err))
		return
	}
	h.writeJSON(w, http.StatusOK, client.DigestResponse{Digest: digest})
}

// ScanRange handles POST /internal/v1/range/scan.
func (h *Handlers) ScanRange(w http.ResponseWriter, r *http.Request) {
	var req client.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, kverrors.InvalidArgument("invalid request body", err))
		return
	}
	entries, next, err := h.replica.Engine().ScanRange(r.Context(), req.Start, req.End, req.Resume, req.Limit)
	if err != nil {
		h.writeError(w, kverrors.StorageFailed("failed to scan range", err))
		return
	}
	resp := client.ScanResponse{Next: next}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, client.ScanEntry{Key: e.Key, Records: e.Records})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// memberRequest is the body of POST /v1/admin/members.
type memberRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// ListMembers handles GET /v1/admin/members.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, client.GossipPayload{Members: h.table.Snapshot()})
}

// AddMember handles POST /v1/admin/members: seed a peer into the view.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" || req.Address == "" {
		h.writeError(w, kverrors.InvalidArgument("node_id and address are required", err))
		return
	}
	h.table.Add(model.Member{
		NodeID:  req.NodeID,
		Address: req.Address,
		Status:  model.StatusActive,
	})
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /v1/admin/members/{node_id}.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.table.Remove(mux.Vars(r)["node_id"])
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: kverrors.GetCode(err).String(), Message: err.Error()}

	var kv *kverrors.KVError
	if errors.As(err, &kv) {
		status = kv.HTTPStatus()
		body.Details = kv.Details
	}
	if status >= 500 {
		h.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, errorResponse{Error: body})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
