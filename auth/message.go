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
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Domain tags scope every signed statement to one operation so a signature
// can never be replayed against a different statement kind
const (
	TagGiftCreate          = "cachet/v1/gift-create"
	TagGiftClaim           = "cachet/v1/gift-claim"
	TagGiftRefund          = "cachet/v1/gift-refund"
	TagGiftRecover         = "cachet/v1/gift-recover"
	TagChainCreate         = "cachet/v1/chain-create"
	TagStepClaim           = "cachet/v1/step-claim"
	TagChainRefund         = "cachet/v1/chain-refund"
	TagChainRecover        = "cachet/v1/chain-recover"
	TagRelayClaim          = "cachet/v1/relay-claim"
	TagDeposit             = "cachet/v1/deposit"
	TagSetFee              = "cachet/v1/set-fee"
	TagSetFeeRecipient     = "cachet/v1/set-fee-recipient"
	TagClaimMandate        = "cachet/v1/claim-mandate"
	TagLocationAttestation = "cachet/v1/location-attestation"
)

// Message builds the canonical byte string for a signed statement: the
// domain tag followed by each field, every element length-prefixed with a
// big-endian uint32. Field order is part of the statement definition.
func Message(tag string, fields ...[]byte) []byte {
	size := 4 + len(tag)
	for _, f := range fields {
		size += 4 + len(f)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(len(tag)))
	out = append(out, tag...)
	for _, f := range fields {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f)))
		out = append(out, f...)
	}
	return out
}

// Digest hashes a canonical message for signing
func Digest(message []byte) [32]byte {
	return blake2b.Sum256(message)
}

// Sign signs a canonical message and returns the hex-encoded signature
func Sign(priv ed25519.PrivateKey, message []byte) string {
	digest := Digest(message)
	return hex.EncodeToString(ed25519.Sign(priv, digest[:]))
}

// VerifyMessage checks a hex signature over a canonical message against the
// signer principal
func VerifyMessage(signer Principal, message []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrSignature
	}
	return signer.verify(Digest(message), sig)
}

func uint64Field(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func int64Field(v int64) []byte {
	return uint64Field(uint64(v))
}
