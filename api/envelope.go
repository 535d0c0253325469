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
	"io"
	"net/http"
	"time"

	"github.com/cachet-io/cachet/auth"
)

// maxRequestBytes caps a mutating request body. The largest legitimate
// payload is a 10-step chain with full reward content on every step.
const maxRequestBytes = 2 * 1024 * 1024

// authenticate reads and verifies the signed envelope carried by a mutating
// request. It returns the verified caller and the envelope payload for the
// handler to decode. On failure the error response has already been written
// and ok is false. A verified envelope is remembered for its freshness
// window so a captured copy cannot be replayed.
func (a *Api) authenticate(
	w http.ResponseWriter,
	r *http.Request,
	tag string,
) (auth.Principal, json.RawMessage, bool) {
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
			return "", nil, false
		}
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"failed to read request body",
		)
		return "", nil, false
	}
	var envelope auth.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed request envelope",
		)
		return "", nil, false
	}
	now := time.Now()
	caller, err := envelope.Verify(tag, now, a.config.EnvelopeWindow)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPrincipal) {
			writeError(
				w,
				http.StatusBadRequest,
				"invalid_parameters",
				err.Error(),
			)
			return "", nil, false
		}
		writeError(
			w,
			http.StatusForbidden,
			"unauthorized_caller",
			err.Error(),
		)
		return "", nil, false
	}
	if a.replay.Observe(envelope.Digest(tag), now) {
		writeError(
			w,
			http.StatusConflict,
			"duplicate_envelope",
			"envelope already submitted",
		)
		return "", nil, false
	}
	return caller, envelope.Payload, true
}

// decodePayload unmarshals an envelope payload into the operation's request
// struct, writing the error response on failure.
func decodePayload(
	w http.ResponseWriter,
	payload json.RawMessage,
	v any,
) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"invalid_parameters",
			"malformed request payload",
		)
		return false
	}
	return true
}
