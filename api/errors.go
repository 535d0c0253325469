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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cachet-io/cachet/ledger"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes the JSON error envelope.
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// statusForError maps a ledger error to its HTTP status. Errors outside the
// ledger taxonomy are internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorizedCaller):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidNonce),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrAlreadyRefunded),
		errors.Is(err, ledger.ErrStepAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrExpired):
		return http.StatusGone
	case errors.Is(err, ledger.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrStepNotUnlocked):
		return http.StatusLocked
	case errors.Is(err, ledger.ErrInvalidParameters),
		errors.Is(err, ledger.ErrInsufficientAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps a ledger operation error onto the wire: the stable
// error code, the mapped status, and the error text. Errors outside the
// ledger taxonomy hide their detail.
func (a *Api) writeLedgerError(w http.ResponseWriter, err error) {
	code := ledger.ErrorCode(err)
	if code == "" {
		a.logger.Error("ledger operation failed", "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"internal",
			"internal error",
		)
		return
	}
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("ledger operation failed", "error", err)
	}
	writeError(w, status, code, err.Error())
}
