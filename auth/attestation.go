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
	"time"
)

// DefaultAttestationWindow bounds how old a location attestation may be
// when a claim presents it
const DefaultAttestationWindow = 10 * time.Minute

// LocationAttestation is a verifier-signed statement that a coordinate was
// observed for a claim target at a point in time. It is a secondary factor
// layered on location checks; the coordinate itself remains caller-supplied
// input.
type LocationAttestation struct {
	Signer    string `json:"signer"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"signature"`
}

// LocationAttestationMessage builds the canonical attestation statement
// binding target identity, coordinate, and issue time
func LocationAttestationMessage(
	target ClaimTarget,
	latitude int64,
	longitude int64,
	issuedAt int64,
) []byte {
	return Message(
		TagLocationAttestation,
		[]byte(target.NonceKey()),
		int64Field(latitude),
		int64Field(longitude),
		int64Field(issuedAt),
	)
}

// SignLocationAttestation produces an attestation over a coordinate for a
// claim target with the verifier's key
func SignLocationAttestation(
	priv ed25519.PrivateKey,
	target ClaimTarget,
	latitude int64,
	longitude int64,
	now time.Time,
) LocationAttestation {
	signer := NewPrincipal(priv.Public().(ed25519.PublicKey))
	issuedAt := now.Unix()
	msg := LocationAttestationMessage(target, latitude, longitude, issuedAt)
	return LocationAttestation{
		Signer:    string(signer),
		IssuedAt:  issuedAt,
		Signature: Sign(priv, msg),
	}
}

// Verify checks the attestation signature and freshness and returns the
// signing principal. Capability membership is the caller's check; this only
// establishes who signed and when.
func (a LocationAttestation) Verify(
	target ClaimTarget,
	latitude int64,
	longitude int64,
	now time.Time,
	window time.Duration,
) (Principal, error) {
	signer, err := ParsePrincipal(a.Signer)
	if err != nil {
		return "", err
	}
	if window <= 0 {
		window = DefaultAttestationWindow
	}
	issued := time.Unix(a.IssuedAt, 0)
	if issued.Before(now.Add(-window)) || issued.After(now.Add(window)) {
		return "", ErrStale
	}
	msg := LocationAttestationMessage(target, latitude, longitude, a.IssuedAt)
	if err := VerifyMessage(signer, msg, a.Signature); err != nil {
		return "", err
	}
	return signer, nil
}
