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
	"github.com/cachet-io/cachet/ledger"
)

// Journal replay feed page bounds
const (
	DefaultEventCount = 100
	MaxEventCount     = 1000
)

// handleGetAccount handles GET /accounts/{principal}.
func (a *Api) handleGetAccount(
	w http.ResponseWriter,
	r *http.Request,
) {
	principal := r.PathValue("principal")
	balance, err := a.ledger.GetBalance(principal)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Principal: principal,
		Balance:   balance,
	})
}

// handleDeposit handles POST /accounts/{principal}/deposit.
func (a *Api) handleDeposit(
	w http.ResponseWriter,
	r *http.Request,
) {
	principal := r.PathValue("principal")
	caller, payload, ok := a.authenticate(w, r, auth.TagDeposit)
	if !ok {
		return
	}
	var req DepositRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if req.To != principal {
		pathPayloadMismatch(w)
		return
	}
	if err := a.ledger.Deposit(
		r.Context(),
		string(caller),
		req.To,
		req.Amount,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	balance, err := a.ledger.GetBalance(req.To)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Principal: req.To,
		Balance:   balance,
	})
}

// handleGetParams handles GET /params.
func (a *Api) handleGetParams(
	w http.ResponseWriter,
	_ *http.Request,
) {
	a.writeParams(w)
}

func (a *Api) writeParams(w http.ResponseWriter) {
	feeBps, err := a.ledger.FeeBps()
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	feeRecipient, err := a.ledger.FeeRecipient()
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParamsResponse{
		FeeBps:       feeBps,
		FeeRecipient: feeRecipient,
	})
}

// handleSetFee handles POST /params/fee.
func (a *Api) handleSetFee(
	w http.ResponseWriter,
	r *http.Request,
) {
	caller, payload, ok := a.authenticate(w, r, auth.TagSetFee)
	if !ok {
		return
	}
	var req SetFeeRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if err := a.ledger.SetFee(
		r.Context(),
		string(caller),
		req.FeeBps,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeParams(w)
}

// handleSetFeeRecipient handles POST /params/fee-recipient.
func (a *Api) handleSetFeeRecipient(
	w http.ResponseWriter,
	r *http.Request,
) {
	caller, payload, ok := a.authenticate(w, r, auth.TagSetFeeRecipient)
	if !ok {
		return
	}
	var req SetFeeRecipientRequest
	if !decodePayload(w, payload, &req) {
		return
	}
	if err := a.ledger.SetFeeRecipient(
		r.Context(),
		string(caller),
		req.Recipient,
	); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeParams(w)
}

// handleStats handles GET /stats.
func (a *Api) handleStats(
	w http.ResponseWriter,
	_ *http.Request,
) {
	stats, err := a.ledger.GetStats()
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleEvents handles GET /events, the journal replay feed. The since
// parameter is the last sequence number the consumer has applied; the
// response starts directly after it.
func (a *Api) handleEvents(
	w http.ResponseWriter,
	r *http.Request,
) {
	query := r.URL.Query()
	var since uint64
	if sinceParam := query.Get("since"); sinceParam != "" {
		parsed, err := strconv.ParseUint(sinceParam, 10, 64)
		if err != nil {
			writeError(
				w,
				http.StatusBadRequest,
				"invalid_parameters",
				"malformed since parameter",
			)
			return
		}
		since = parsed
	}
	count := DefaultEventCount
	if countParam := query.Get("count"); countParam != "" {
		parsed, err := strconv.Atoi(countParam)
		if err != nil || parsed < 1 {
			writeError(
				w,
				http.StatusBadRequest,
				"invalid_parameters",
				"malformed count parameter",
			)
			return
		}
		count = min(parsed, MaxEventCount)
	}
	events, err := a.ledger.JournalEventsSince(since, count)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	if events == nil {
		events = []ledger.JournalEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleHealth handles GET /health.
func (a *Api) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	seq, err := a.ledger.JournalSeq()
	if err != nil {
		a.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{})
		return
	}
	locked, err := a.ledger.ValueLocked()
	if err != nil {
		a.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Healthy:     true,
		JournalSeq:  seq,
		ValueLocked: locked,
	})
}
