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

package api

import (
	"net/http"
	"strconv"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/ledger"
)

// stepIndexFromPath parses the {index} path segment, writing the error
// response on malformed input.
func stepIndexFromPath(
	w http.ResponseWriter,
	r *http.Request,
) (uint32, bool) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 32)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed step index",
		)
		return 0, false
	}
	return uint32(index), true
}

// handleCreateChain handles POST /chains.
func (a *Api) handleCreateChain(
	w http.ResponseWriter,
	r *http.Request,
) {
	caller, payload, ok := a.authenticate(w, r, auth.TagChainCreate)
	if !ok {
		return
	}
	var req CreateChainRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	params, err := req.toParams()
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			err.Error(),
		)
		return
	}
	chainID, err := a.ledger.CreateChain(r.Context(), string(caller), params)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateChainResponse{ChainID: chainID})
}

// handleGetChain handles GET /chains/{id} and returns the chain with its
// steps.
func (a *Api) handleGetChain(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	chain, err := a.ledger.GetChain(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	steps, err := a.ledger.GetChainSteps(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chainResponse(chain, steps))
}

// handleListChains handles GET /chains with sender/recipient/status filters
// and count/page pagination. Listings omit step details.
func (a *Api) handleListChains(
	w http.ResponseWriter,
	r *http.Request,
) {
	pagination, err := ParsePagination(r)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			err.Error(),
		)
		return
	}
	status, ok := statusFilter(w, r)
	if !ok {
		return
	}
	chains, total, err := a.ledger.GetChains(models.ChainQuery{
		Creator:   r.URL.Query().Get("sender"),
		Recipient: r.URL.Query().Get("recipient"),
		Status:    status,
		Limit:     pagination.Count,
		Offset:    pagination.Offset(),
	})
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	SetPaginationHeaders(w, int(total), pagination)
	ret := make([]ChainResponse, 0, len(chains))
	for i := range chains {
		ret = append(ret, chainResponse(&chains[i], nil))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleClaimStep handles POST /chains/{id}/steps/{index}/claim.
func (a *Api) handleClaimStep(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	stepIndex, ok := stepIndexFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagStepClaim)
	if !ok {
		return
	}
	var req ClaimStepRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.ChainID != chainID || req.StepIndex != stepIndex {
		pathPayloadMismatch(w)
		return
	}
	outcome, err := a.ledger.ClaimStep(
		r.Context(),
		string(caller),
		chainID,
		stepIndex,
		req.Proof.ToProof(),
	)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse(outcome))
}

// handleRelayClaimStep handles POST /chains/{id}/steps/{index}/relay-claim.
func (a *Api) handleRelayClaimStep(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	stepIndex, ok := stepIndexFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagRelayClaim)
	if !ok {
		return
	}
	var req RelayClaimStepRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.ChainID != chainID || req.StepIndex != stepIndex {
		pathPayloadMismatch(w)
		return
	}
	outcome, err := a.ledger.RelayClaimStep(
		r.Context(),
		string(caller),
		chainID,
		stepIndex,
		req.Recipient,
		req.Proof.ToProof(),
		req.Nonce,
		req.Signature,
	)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse(outcome))
}

// handleStepNonce handles GET /chains/{id}/steps/{index}/nonce.
func (a *Api) handleStepNonce(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	stepIndex, ok := stepIndexFromPath(w, r)
	if !ok {
		return
	}
	chain, err := a.ledger.GetChain(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	if stepIndex >= chain.StepCount {
		a.writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	target := auth.StepTarget(chainID, stepIndex)
	nonce, err := a.ledger.GetNonce(target)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{
		Target: target.NonceKey(),
		Nonce:  nonce,
	})
}

// handleStepReward handles GET /chains/{id}/steps/{index}/reward. Reward
// content stays sealed until the step completes.
func (a *Api) handleStepReward(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	stepIndex, ok := stepIndexFromPath(w, r)
	if !ok {
		return
	}
	content, contentType, err := a.ledger.GetStepReward(chainID, stepIndex)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StepRewardResponse{
		ChainID:     chainID,
		StepIndex:   stepIndex,
		Content:     content,
		ContentType: contentType,
	})
}

// handleRefundChain handles POST /chains/{id}/refund.
func (a *Api) handleRefundChain(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	caller, payload, ok := a.authenticate(w, r, auth.TagChainRefund)
	if !ok {
		return
	}
	var req ChainTargetRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.ChainID != chainID {
		pathPayloadMismatch(w)
		return
	}
	if err := a.ledger.RefundChain(
		r.Context(),
		string(caller),
		chainID,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeChain(w, chainID)
}

// handleRecoverChain handles POST /chains/{id}/recover.
func (a *Api) handleRecoverChain(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	caller, payload, ok := a.authenticate(w, r, auth.TagChainRecover)
	if !ok {
		return
	}
	var req ChainTargetRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.ChainID != chainID {
		pathPayloadMismatch(w)
		return
	}
	if err := a.ledger.RecoverChain(
		r.Context(),
		string(caller),
		chainID,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeChain(w, chainID)
}

// writeChain responds with the chain's current state after a mutation.
func (a *Api) writeChain(w http.ResponseWriter, chainID string) {
	chain, err := a.ledger.GetChain(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	steps, err := a.ledger.GetChainSteps(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chainResponse(chain, steps))
}

// handleChainAttempts handles GET /chains/{id}/attempts and aggregates the
// audit trail across every step.
func (a *Api) handleChainAttempts(
	w http.ResponseWriter,
	r *http.Request,
) {
	chainID := r.PathValue("id")
	chain, err := a.ledger.GetChain(chainID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	ret := make([]AttemptResponse, 0)
	for stepIndex := uint32(0); stepIndex < chain.StepCount; stepIndex++ {
		attempts, err := a.ledger.GetAttempts(
			auth.StepTarget(chainID, stepIndex),
		)
		if err != nil {
			a.writeLedgerError(w, err)
			return
		}
		ret = append(ret, attemptResponses(attempts)...)
	}
	writeJSON(w, http.StatusOK, ret)
}
