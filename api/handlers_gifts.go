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
)

// giftIDFromPath parses the {id} path segment, writing the error response
// on malformed input.
func giftIDFromPath(
	w http.ResponseWriter,
	r *http.Request,
) (uint64, bool) {
	giftID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed gift id",
		)
		return 0, false
	}
	return giftID, true
}

// statusFilter parses the optional status query parameter into a status
// filter, writing the error response on an unknown name.
func statusFilter(
	w http.ResponseWriter,
	r *http.Request,
) (*uint8, bool) {
	param := r.URL.Query().Get("status")
	if param == "" {
		return nil, true
	}
	for _, status := range []uint8{
		models.StatusActive,
		models.StatusClaimed,
		models.StatusRefunded,
		models.StatusRecovered,
		models.StatusCompleted,
	} {
		if models.StatusName(status) == param {
			matched := status
			return &matched, true
		}
	}
	writeError(
		w,
		http.StatusBadRequest,
		"invalid_parameters",
		"unknown status "+param,
	)
	return nil, false
}

// pathPayloadMismatch rejects an envelope whose signed payload names a
// different target than the request path.
func pathPayloadMismatch(w http.ResponseWriter) {
	writeError(
		w,
		http.StatusBadRequest,
		"invalid_parameters",
		"payload target does not match request path",
	)
}

// handleCreateGift handles POST /gifts.
func (a *Api) handleCreateGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	caller, payload, ok := a.authenticate(w, r, auth.TagGiftCreate)
	if !ok {
		return
	}
	var req CreateGiftRequest
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
	giftID, err := a.ledger.CreateGift(r.Context(), string(caller), params)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateGiftResponse{GiftID: giftID})
}

// handleGetGift handles GET /gifts/{id}.
func (a *Api) handleGetGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	gift, err := a.ledger.GetGift(giftID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, giftResponse(gift))
}

// handleListGifts handles GET /gifts with sender/recipient/status filters
// and count/page pagination.
func (a *Api) handleListGifts(
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
	gifts, total, err := a.ledger.GetGifts(models.GiftQuery{
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
	ret := make([]GiftResponse, 0, len(gifts))
	for i := range gifts {
		ret = append(ret, giftResponse(&gifts[i]))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleClaimGift handles POST /gifts/{id}/claim.
func (a *Api) handleClaimGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagGiftClaim)
	if !ok {
		return
	}
	var req ClaimGiftRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.GiftID != giftID {
		pathPayloadMismatch(w)
		return
	}
	outcome, err := a.ledger.ClaimGift(
		r.Context(),
		string(caller),
		giftID,
		req.Proof.ToProof(),
	)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse(outcome))
}

// handleRelayClaimGift handles POST /gifts/{id}/relay-claim. The envelope
// authenticates the relay; the recipient's authorization is the claim
// mandate inside the payload.
func (a *Api) handleRelayClaimGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagRelayClaim)
	if !ok {
		return
	}
	var req RelayClaimGiftRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.GiftID != giftID {
		pathPayloadMismatch(w)
		return
	}
	outcome, err := a.ledger.RelayClaimGift(
		r.Context(),
		string(caller),
		giftID,
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

// handleRefundGift handles POST /gifts/{id}/refund.
func (a *Api) handleRefundGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagGiftRefund)
	if !ok {
		return
	}
	var req GiftTargetRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.GiftID != giftID {
		pathPayloadMismatch(w)
		return
	}
	if err := a.ledger.RefundGift(
		r.Context(),
		string(caller),
		giftID,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeGift(w, giftID)
}

// handleRecoverGift handles POST /gifts/{id}/recover.
func (a *Api) handleRecoverGift(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	caller, payload, ok := a.authenticate(w, r, auth.TagGiftRecover)
	if !ok {
		return
	}
	var req GiftTargetRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.GiftID != giftID {
		pathPayloadMismatch(w)
		return
	}
	if err := a.ledger.RecoverGift(
		r.Context(),
		string(caller),
		giftID,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeGift(w, giftID)
}

// writeGift responds with the gift's current state after a mutation.
func (a *Api) writeGift(w http.ResponseWriter, giftID uint64) {
	gift, err := a.ledger.GetGift(giftID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, giftResponse(gift))
}

// handleGiftNonce handles GET /gifts/{id}/nonce.
func (a *Api) handleGiftNonce(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	if _, err := a.ledger.GetGift(giftID); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	target := auth.GiftTarget(giftID)
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

// handleGiftAttempts handles GET /gifts/{id}/attempts.
func (a *Api) handleGiftAttempts(
	w http.ResponseWriter,
	r *http.Request,
) {
	giftID, ok := giftIDFromPath(w, r)
	if !ok {
		return
	}
	if _, err := a.ledger.GetGift(giftID); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	attempts, err := a.ledger.GetAttempts(auth.GiftTarget(giftID))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponses(attempts))
}
