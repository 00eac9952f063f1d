// Package transport implements the core's internal RPC surface (§6):
// version-gated JSON request/response exchange over HTTP, grounded on
// the same PostJSON/GetJSON idiom used for node-to-node calls in the
// cluster package this project started from.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
)

// Action names the core depends on (§6); they must remain stable
// across compatible versions.
const (
	ActionTableOrPartitionClose = "internal:crate:sql/table_or_partition/close"
	ActionVerifyShardClose      = "internal:indices:admin/close/verify_shard"
	ActionRequestPeers          = "internal:discovery/request_peers"

	// ActionShardWrite is not named in §6 but follows its naming
	// convention for the shard-write RPC the dispatcher needs.
	ActionShardWrite = "internal:crate:sql/shard/write"

	// ActionClusterState is not named in §6 either; it's the read-only
	// admin surface cmd/warrenctl polls for show-routing/list-nodes.
	ActionClusterState = "internal:admin/cluster_state"

	// ActionPutIndexMetadata backs cmd/warrenctl apply's YAML-manifest
	// idiom: register or update one index's metadata on the master.
	ActionPutIndexMetadata = "internal:admin/put_index_metadata"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Envelope wraps every request/response with the cluster-minimum
// version the sender observed (§6 "all internal RPCs carry a
// cluster-minimum-version"); Body carries the action-specific payload.
type Envelope struct {
	MinClusterVersion cluster.NodeVersion `json:"min_cluster_version"`
	Body              json.RawMessage     `json:"body"`
}

// Call sends body to address/action as a versioned POST and decodes
// the response body into out. Pass nil for out to ignore the response
// body (write(out)/read(in) of §6 realized as JSON marshal/unmarshal,
// with the envelope giving the forward-compatible version gate).
func Call(ctx context.Context, address, action string, minVersion cluster.NodeVersion, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode %s body: %w", action, err)
	}
	envelope := Envelope{MinClusterVersion: minVersion, Body: payload}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("transport: encode %s envelope: %w", action, err)
	}

	url := address + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("transport: build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s: http %d", action, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	var respEnvelope Envelope
	if err := json.NewDecoder(resp.Body).Decode(&respEnvelope); err != nil {
		return fmt.Errorf("transport: decode %s envelope: %w", action, err)
	}
	if len(respEnvelope.Body) == 0 {
		return nil
	}
	return json.Unmarshal(respEnvelope.Body, out)
}

// Handler decodes a request envelope, dispatches to fn, and encodes
// the response as an envelope carrying the handler node's own version.
func Handler(selfVersion cluster.NodeVersion, fn func(ctx context.Context, body json.RawMessage) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var envelope Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := fn(r.Context(), envelope.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		respBody, err := json.Marshal(result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := Envelope{MinClusterVersion: selfVersion, Body: respBody}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
