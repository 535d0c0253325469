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

package auth

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultEnvelopeWindow bounds how far an envelope's issue time may drift
// from the server clock in either direction
const DefaultEnvelopeWindow = 5 * time.Minute

// Envelope authenticates one mutating API request. The signature covers the
// operation's domain tag, the payload bytes exactly as transmitted, the
// caller, and the issue time, so the server never needs to re-canonicalize
// JSON before verifying.
type Envelope struct {
	Caller    string          `json:"caller"`
	IssuedAt  int64           `json:"issued_at"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// EnvelopeMessage builds the canonical statement an envelope signs
func EnvelopeMessage(
	tag string,
	caller Principal,
	payload []byte,
	issuedAt int64,
) []byte {
	return Message(
		tag,
		[]byte(caller),
		payload,
		int64Field(issuedAt),
	)
}

// NewEnvelope signs a payload for the given operation tag as of now
func NewEnvelope(
	priv ed25519.PrivateKey,
	tag string,
	payload json.RawMessage,
	now time.Time,
) Envelope {
	caller := NewPrincipal(priv.Public().(ed25519.PublicKey))
	issuedAt := now.Unix()
	return Envelope{
		Caller:    string(caller),
		IssuedAt:  issuedAt,
		Payload:   payload,
		Signature: Sign(priv, EnvelopeMessage(tag, caller, payload, issuedAt)),
	}
}

// Verify checks the envelope's signature and freshness and returns the
// verified caller principal. The window applies in both directions to
// tolerate clock skew without accepting stale authorizations.
func (e Envelope) Verify(
	tag string,
	now time.Time,
	window time.Duration,
) (Principal, error) {
	caller, err := ParsePrincipal(e.Caller)
	if err != nil {
		return "", err
	}
	if window <= 0 {
		window = DefaultEnvelopeWindow
	}
	issued := time.Unix(e.IssuedAt, 0)
	if issued.Before(now.Add(-window)) || issued.After(now.Add(window)) {
		return "", fmt.Errorf(
			"%w: issued %s",
			ErrStale,
			issued.UTC().Format(time.RFC3339),
		)
	}
	msg := EnvelopeMessage(tag, caller, e.Payload, e.IssuedAt)
	if err := VerifyMessage(caller, msg, e.Signature); err != nil {
		return "", err
	}
	return caller, nil
}

// Digest identifies the envelope for replay tracking
func (e Envelope) Digest(tag string) [32]byte {
	caller, _ := ParsePrincipal(e.Caller)
	return Digest(EnvelopeMessage(tag, caller, e.Payload, e.IssuedAt))
}
