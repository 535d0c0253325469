// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/cachet-io/cachet/api"
	"github.com/cachet-io/cachet/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// maxRequestBytes caps a relay request body. Proofs are small; nothing
// legitimate approaches this.
const maxRequestBytes = 1 * 1024 * 1024

// CreateClaimHashRequest asks the relay to assemble the mandate statement a
// recipient must sign. Exactly one claim target is named: a gift ID, or a
// chain ID plus step index.
type CreateClaimHashRequest struct {
	GiftID    uint64           `json:"gift_id,omitempty"`
	ChainID   string           `json:"chain_id,omitempty"`
	StepIndex uint32           `json:"step_index,omitempty"`
	Recipient string           `json:"recipient"`
	Proof     api.ProofRequest `json:"proof"`
}

// CreateClaimHashResponse carries the canonical mandate statement. Digest
// is what the recipient's key signs; message lets a caller recompute and
// audit the digest. Both are hex encoded.
type CreateClaimHashResponse struct {
	Target  string `json:"target"`
	Nonce   uint64 `json:"nonce"`
	Message string `json:"message"`
	Digest  string `json:"digest"`
}

// HealthResponse is returned by the relay's GET /health.
type HealthResponse struct {
	Principal     string `json:"principal"`
	NodeReachable bool   `json:"node_reachable"`
	Balance       uint64 `json:"balance"`
	PendingClaims int    `json:"pending_claims"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, api.ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// writePendingConflict reports that an identical claim is already in
// flight. This is a relay-level condition, not a ledger verdict; the caller
// retries once the first submission settles.
func writePendingConflict(w http.ResponseWriter) {
	writeError(
		w,
		http.StatusConflict,
		"transaction_already_pending",
		"a claim for this target and recipient is already in flight",
	)
}

// writeNodeError passes a node rejection through unchanged; anything else
// means the node was unreachable.
func (rl *Relay) writeNodeError(w http.ResponseWriter, err error) {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		writeError(w, nodeErr.StatusCode, nodeErr.Code, nodeErr.Message)
		return
	}
	rl.logger.Error("node request failed", "error", err)
	writeError(
		w,
		http.StatusBadGateway,
		"node_unreachable",
		"failed to reach the node",
	)
}

// decodeBody reads and unmarshals a request body, writing the error
// response on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(
		http.MaxBytesReader(w, r.Body, maxRequestBytes),
	)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(
				w,
				http.StatusRequestEntityTooLarge,
				"invalid_parameters",
				"request body too large",
			)
			return false
		}
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"failed to read request body",
		)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed request body",
		)
		return false
	}
	return true
}

// claimTarget resolves the claim target named by a gift ID / chain ID pair,
// rejecting requests that name both or neither.
func claimTarget(
	w http.ResponseWriter,
	giftID uint64,
	chainID string,
	stepIndex uint32,
) (auth.ClaimTarget, bool) {
	switch {
	case giftID != 0 && chainID != "":
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"gift and chain targets are mutually exclusive",
		)
		return auth.ClaimTarget{}, false
	case chainID != "":
		return auth.StepTarget(chainID, stepIndex), true
	case giftID != 0:
		return auth.GiftTarget(giftID), true
	default:
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"no claim target named",
		)
		return auth.ClaimTarget{}, false
	}
}

// handleCreateClaimHash handles POST /create-claim-hash. The relay fetches
// the target's current nonce from the node and assembles the mandate
// statement; nothing about the request is stored.
func (rl *Relay) handleCreateClaimHash(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req CreateClaimHashRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target, ok := claimTarget(w, req.GiftID, req.ChainID, req.StepIndex)
	if !ok {
		return
	}
	recipient, err := auth.ParsePrincipal(req.Recipient)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			err.Error(),
		)
		return
	}
	nonce, err := rl.client.Nonce(r.Context(), target)
	if err != nil {
		rl.writeNodeError(w, err)
		return
	}
	proofDigest := req.Proof.ToProof().Digest()
	message := auth.ClaimMandateMessage(
		target,
		recipient,
		proofDigest,
		nonce.Nonce,
	)
	digest := auth.Digest(message)
	writeJSON(w, http.StatusOK, CreateClaimHashResponse{
		Target:  target.NonceKey(),
		Nonce:   nonce.Nonce,
		Message: hex.EncodeToString(message),
		Digest:  hex.EncodeToString(digest[:]),
	})
}

// handleGiftNonce handles GET /nonce/{giftId}.
func (rl *Relay) handleGiftNonce(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, err := strconv.ParseUint(r.PathValue("giftId"), 10, 64)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed gift id",
		)
		return
	}
	nonce, err := rl.client.Nonce(r.Context(), auth.GiftTarget(giftID))
	if err != nil {
		rl.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonce)
}

// handleStepNonce handles GET /chain-nonce/{chainId}/{stepIndex}.
func (rl *Relay) handleStepNonce(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("chainId")
	stepIndex, err := strconv.ParseUint(r.PathValue("stepIndex"), 10, 32)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed step index",
		)
		return
	}
	nonce, err := rl.client.Nonce(
		r.Context(),
		auth.StepTarget(chainID, uint32(stepIndex)),
	)
	if err != nil {
		rl.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonce)
}

// handleRelayClaim handles POST /relay-claim. The body is the node's
// relay-claim payload; the relay validates shape, guards against a
// duplicate in-flight submission, and forwards under its own envelope.
func (rl *Relay) handleRelayClaim(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req api.RelayClaimGiftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.GiftID == 0 {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"gift_id required",
		)
		return
	}
	if !rl.validMandateShape(w, req.Recipient, req.Signature) {
		return
	}
	target := auth.GiftTarget(req.GiftID)
	if !rl.pending.Acquire(target.NonceKey(), req.Recipient) {
		rl.metrics.submissionsTotal.WithLabelValues(
			"gift", "pending_conflict",
		).Inc()
		writePendingConflict(w)
		return
	}
	defer rl.pending.Release(target.NonceKey(), req.Recipient)

	timer := prometheus.NewTimer(rl.metrics.nodeRoundTrip)
	outcome, err := rl.client.RelayClaimGift(r.Context(), req)
	timer.ObserveDuration()
	if err != nil {
		rl.metrics.submissionsTotal.WithLabelValues(
			"gift", submissionResult(err),
		).Inc()
		rl.writeNodeError(w, err)
		return
	}
	rl.metrics.submissionsTotal.WithLabelValues("gift", "settled").Inc()
	writeJSON(w, http.StatusOK, outcome)
}

// handleRelayClaimStep handles POST /relay-claim-step.
func (rl *Relay) handleRelayClaimStep(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req api.RelayClaimStepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChainID == "" {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"chain_id required",
		)
		return
	}
	if !rl.validMandateShape(w, req.Recipient, req.Signature) {
		return
	}
	target := auth.StepTarget(req.ChainID, req.StepIndex)
	if !rl.pending.Acquire(target.NonceKey(), req.Recipient) {
		rl.metrics.submissionsTotal.WithLabelValues(
			"step", "pending_conflict",
		).Inc()
		writePendingConflict(w)
		return
	}
	defer rl.pending.Release(target.NonceKey(), req.Recipient)

	timer := prometheus.NewTimer(rl.metrics.nodeRoundTrip)
	outcome, err := rl.client.RelayClaimStep(r.Context(), req)
	timer.ObserveDuration()
	if err != nil {
		rl.metrics.submissionsTotal.WithLabelValues(
			"step", submissionResult(err),
		).Inc()
		rl.writeNodeError(w, err)
		return
	}
	rl.metrics.submissionsTotal.WithLabelValues("step", "settled").Inc()
	writeJSON(w, http.StatusOK, outcome)
}

// validMandateShape rejects submissions the node would bounce on sight, so
// an obviously broken request never occupies the pending guard.
func (rl *Relay) validMandateShape(
	w http.ResponseWriter,
	recipient string,
	signature string,
) bool {
	if _, err := auth.ParsePrincipal(recipient); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			err.Error(),
		)
		return false
	}
	if signature == "" {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"signature required",
		)
		return false
	}
	return true
}

func submissionResult(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return "rejected"
	}
	return "node_unreachable"
}

// handleHealth handles GET /health. The response always carries the relay's
// identity and pending-guard size; node reachability and the relay's own
// ledger balance ride along when the node answers.
func (rl *Relay) handleHealth(
	w http.ResponseWriter,
	r *http.Request,
) {
	ret := HealthResponse{
		Principal:     rl.principal.String(),
		PendingClaims: rl.pending.Size(),
	}
	if _, err := rl.client.Health(r.Context()); err == nil {
		ret.NodeReachable = true
		if account, err := rl.client.Balance(
			r.Context(),
			rl.principal.String(),
		); err == nil {
			ret.Balance = account.Balance
		}
	}
	writeJSON(w, http.StatusOK, ret)
}
