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

// Package unlock verifies claim proofs against recorded challenges. Each
// unlock type selects one verification variant; unknown types and malformed
// proofs always reject, never default to success.
package unlock

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/geo"
	"golang.org/x/crypto/blake2b"
)

// Radius bounds in meters for location challenges
const (
	MinRadius     = 5
	MaxRadius     = 1000
	DefaultRadius = 50
)

// DigestSize is the byte length of an answer challenge digest
const DigestSize = blake2b.Size256

var (
	// ErrUnknownType rejects an unrecognized unlock type tag
	ErrUnknownType = errors.New("unknown unlock type")
	// ErrMalformedProof rejects a proof missing the shape its challenge needs
	ErrMalformedProof = errors.New("malformed proof")
	// ErrNotSatisfied reports a well-formed proof that failed the check
	ErrNotSatisfied = errors.New("challenge not satisfied")
)

// Type tags the verification variant a challenge uses. The numeric values
// are wire values shared with the content-delivery side and must not be
// renumbered.
type Type uint8

const (
	TypeLocation  Type = 0
	TypeVideo     Type = 1
	TypeImage     Type = 2
	TypeMarkdown  Type = 3
	TypeQuiz      Type = 4
	TypePassword  Type = 5
	TypeURL       Type = 6
	TypeSignature Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeLocation:
		return "location"
	case TypeVideo:
		return "video"
	case TypeImage:
		return "image"
	case TypeMarkdown:
		return "markdown"
	case TypeQuiz:
		return "quiz"
	case TypePassword:
		return "password"
	case TypeURL:
		return "url"
	case TypeSignature:
		return "signature"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(t))
	}
}

// Valid reports whether the tag names a known variant
func (t Type) Valid() bool {
	return t <= TypeSignature
}

// RequiresLocation reports whether the variant checks a coordinate
func (t Type) RequiresLocation() bool {
	return t == TypeLocation || t == TypeSignature
}

// RequiresAnswer reports whether the variant checks an answer digest
func (t Type) RequiresAnswer() bool {
	return t.Valid() && !t.RequiresLocation()
}

// RequiresAttestation reports whether the variant always demands a verifier
// attestation. Location challenges may also demand one per challenge.
func (t Type) RequiresAttestation() bool {
	return t == TypeSignature
}

// Challenge is the recorded commitment a claim must satisfy. Location
// variants use Target and Radius; answer variants store only the digest of
// the expected answer, never the plaintext.
type Challenge struct {
	Target              geo.Point
	Radius              uint32
	Digest              []byte
	AttestationRequired bool
}

// Validate checks the challenge shape for its unlock type at creation time
func (c Challenge) Validate(t Type) error {
	if !t.Valid() {
		return ErrUnknownType
	}
	if t.RequiresLocation() {
		if !c.Target.Valid() {
			return errors.New("challenge target outside coordinate domain")
		}
		if c.Radius < MinRadius || c.Radius > MaxRadius {
			return fmt.Errorf(
				"challenge radius %dm outside %d..%dm",
				c.Radius,
				MinRadius,
				MaxRadius,
			)
		}
		return nil
	}
	if len(c.Digest) != DigestSize {
		return fmt.Errorf(
			"challenge digest must be %d bytes, got %d",
			DigestSize,
			len(c.Digest),
		)
	}
	return nil
}

// HashAnswer digests an answer for challenge storage and comparison
func HashAnswer(answer string) []byte {
	sum := blake2b.Sum256([]byte(answer))
	return sum[:]
}

// Proof is the claimer's submission against a challenge. Coordinate and
// Answer are untrusted caller input; Attestation is a verifier-signed
// statement that rides alongside and is checked independently.
type Proof struct {
	Coordinate  *geo.Point
	Answer      string
	Attestation *auth.LocationAttestation
}

// Digest commits to the claimer-supplied proof facts for mandate binding.
// The attestation is excluded: it carries its own signature.
func (p Proof) Digest() [32]byte {
	var lat, lon, present int64
	if p.Coordinate != nil {
		present = 1
		lat = p.Coordinate.Latitude
		lon = p.Coordinate.Longitude
	}
	msg := auth.Message(
		"cachet/v1/proof",
		[]byte{byte(present)},
		int64Bytes(lat),
		int64Bytes(lon),
		[]byte(p.Answer),
	)
	return auth.Digest(msg)
}

func int64Bytes(v int64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// Result reports what the verifier measured. Distance is meters for
// location variants and -1 otherwise, and is populated on failure too so
// attempt records can carry it.
type Result struct {
	Distance int64
}

// Verifier dispatches challenge verification by unlock type
type Verifier struct {
	capabilities      *auth.Capabilities
	attestationWindow time.Duration
}

func NewVerifier(
	capabilities *auth.Capabilities,
	attestationWindow time.Duration,
) *Verifier {
	if attestationWindow <= 0 {
		attestationWindow = auth.DefaultAttestationWindow
	}
	return &Verifier{
		capabilities:      capabilities,
		attestationWindow: attestationWindow,
	}
}

// Verify checks a proof against a challenge. A nil error means the claim
// may settle. ErrNotSatisfied means the check ran and failed;
// ErrMalformedProof and ErrUnknownType mean the inputs never reached a
// check. The Result is meaningful in every case.
func (v *Verifier) Verify(
	target auth.ClaimTarget,
	unlockType Type,
	challenge Challenge,
	proof Proof,
	now time.Time,
) (Result, error) {
	result := Result{Distance: -1}
	if !unlockType.Valid() {
		return result, ErrUnknownType
	}
	if unlockType.RequiresLocation() {
		return v.verifyLocation(target, unlockType, challenge, proof, now)
	}
	return result, v.verifyAnswer(challenge, proof)
}

func (v *Verifier) verifyLocation(
	target auth.ClaimTarget,
	unlockType Type,
	challenge Challenge,
	proof Proof,
	now time.Time,
) (Result, error) {
	result := Result{Distance: -1}
	if proof.Coordinate == nil {
		return result, fmt.Errorf("%w: missing coordinate", ErrMalformedProof)
	}
	if !proof.Coordinate.Valid() {
		return result, fmt.Errorf(
			"%w: coordinate outside domain",
			ErrMalformedProof,
		)
	}
	distance := geo.Distance(challenge.Target, *proof.Coordinate)
	result.Distance = int64(distance)
	if distance > uint64(challenge.Radius) {
		return result, fmt.Errorf(
			"%w: distance %dm exceeds radius %dm",
			ErrNotSatisfied,
			distance,
			challenge.Radius,
		)
	}
	if unlockType.RequiresAttestation() || challenge.AttestationRequired {
		if err := v.checkAttestation(target, proof, now); err != nil {
			return result, err
		}
	}
	return result, nil
}

// checkAttestation enforces the demanded secondary factor. When no verifier
// principals are configured the check fails rather than passing silently.
func (v *Verifier) checkAttestation(
	target auth.ClaimTarget,
	proof Proof,
	now time.Time,
) error {
	if v.capabilities.VerifierCount() == 0 {
		return fmt.Errorf(
			"%w: attestation required but no verifiers configured",
			ErrNotSatisfied,
		)
	}
	if proof.Attestation == nil {
		return fmt.Errorf("%w: attestation required", ErrNotSatisfied)
	}
	signer, err := proof.Attestation.Verify(
		target,
		proof.Coordinate.Latitude,
		proof.Coordinate.Longitude,
		now,
		v.attestationWindow,
	)
	if err != nil {
		return fmt.Errorf("%w: attestation: %s", ErrNotSatisfied, err)
	}
	if !v.capabilities.Has(signer, auth.CapabilityVerifier) {
		return fmt.Errorf(
			"%w: attestation signer lacks verifier capability",
			ErrNotSatisfied,
		)
	}
	return nil
}

func (v *Verifier) verifyAnswer(challenge Challenge, proof Proof) error {
	if proof.Answer == "" {
		return fmt.Errorf("%w: missing answer", ErrMalformedProof)
	}
	if len(challenge.Digest) != DigestSize {
		return fmt.Errorf("%w: challenge digest malformed", ErrMalformedProof)
	}
	if subtle.ConstantTimeCompare(
		HashAnswer(proof.Answer),
		challenge.Digest,
	) != 1 {
		return fmt.Errorf("%w: answer mismatch", ErrNotSatisfied)
	}
	return nil
}
