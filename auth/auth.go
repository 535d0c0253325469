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

// Package auth defines principals, capability sets, and the signed statements
// the ledger accepts: request envelopes, relay claim mandates, and verifier
// location attestations. A principal is an Ed25519 public key; proving
// control of the key is the only identity mechanism.
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PrincipalLength is the hex-encoded length of a principal
const PrincipalLength = 2 * ed25519.PublicKeySize

var (
	ErrInvalidPrincipal = errors.New("invalid principal")
	ErrSignature        = errors.New("signature verification failed")
	ErrStale            = errors.New("authorization outside freshness window")
)

// Principal is a lowercase hex-encoded Ed25519 public key
type Principal string

// NewPrincipal derives the principal for a public key
func NewPrincipal(pub ed25519.PublicKey) Principal {
	return Principal(hex.EncodeToString(pub))
}

// ParsePrincipal validates and normalizes a principal string
func ParsePrincipal(s string) (Principal, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != PrincipalLength {
		return "", fmt.Errorf(
			"%w: expected %d hex characters, got %d",
			ErrInvalidPrincipal,
			PrincipalLength,
			len(s),
		)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPrincipal, err)
	}
	return Principal(s), nil
}

// PublicKey returns the principal's Ed25519 public key
func (p Principal) PublicKey() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(p))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPrincipal
	}
	return ed25519.PublicKey(raw), nil
}

func (p Principal) String() string {
	return string(p)
}

// verify checks an Ed25519 signature over a message digest against the
// principal's key. A malformed principal or signature fails closed.
func (p Principal) verify(digest [32]byte, sig []byte) error {
	pub, err := p.PublicKey()
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrSignature
	}
	if !ed25519.Verify(pub, digest[:], sig) {
		return ErrSignature
	}
	return nil
}

// Capability names a privileged authorization checked per call
type Capability string

const (
	// CapabilityOperator tunes fees and parameters and credits deposits
	CapabilityOperator Capability = "operator"
	// CapabilityEmergency forces recovery of custodied value
	CapabilityEmergency Capability = "emergency"
	// CapabilityVerifier signs trusted location attestations
	CapabilityVerifier Capability = "verifier"
)

// Capabilities holds the static capability membership sets. A principal may
// hold any combination; each check is an independent membership test.
type Capabilities struct {
	operators map[Principal]struct{}
	emergency map[Principal]struct{}
	verifiers map[Principal]struct{}
}

func NewCapabilities(
	operators []Principal,
	emergency []Principal,
	verifiers []Principal,
) *Capabilities {
	c := &Capabilities{
		operators: make(map[Principal]struct{}, len(operators)),
		emergency: make(map[Principal]struct{}, len(emergency)),
		verifiers: make(map[Principal]struct{}, len(verifiers)),
	}
	for _, p := range operators {
		c.operators[p] = struct{}{}
	}
	for _, p := range emergency {
		c.emergency[p] = struct{}{}
	}
	for _, p := range verifiers {
		c.verifiers[p] = struct{}{}
	}
	return c
}

// Has reports whether the principal holds the capability
func (c *Capabilities) Has(p Principal, capability Capability) bool {
	if c == nil {
		return false
	}
	var set map[Principal]struct{}
	switch capability {
	case CapabilityOperator:
		set = c.operators
	case CapabilityEmergency:
		set = c.emergency
	case CapabilityVerifier:
		set = c.verifiers
	default:
		return false
	}
	_, ok := set[p]
	return ok
}

// VerifierCount returns the number of configured attestation signers
func (c *Capabilities) VerifierCount() int {
	if c == nil {
		return 0
	}
	return len(c.verifiers)
}
