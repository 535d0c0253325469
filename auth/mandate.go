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
	"fmt"
)

// ClaimTarget identifies the unit of work a claim settles: a standalone gift
// or one step of a chain
type ClaimTarget struct {
	GiftID    uint64 `json:"gift_id,omitempty"`
	ChainID   string `json:"chain_id,omitempty"`
	StepIndex uint32 `json:"step_index,omitempty"`
}

// GiftTarget returns the target for a standalone gift
func GiftTarget(giftID uint64) ClaimTarget {
	return ClaimTarget{GiftID: giftID}
}

// StepTarget returns the target for a chain step
func StepTarget(chainID string, stepIndex uint32) ClaimTarget {
	return ClaimTarget{ChainID: chainID, StepIndex: stepIndex}
}

// IsStep reports whether the target addresses a chain step
func (t ClaimTarget) IsStep() bool {
	return t.ChainID != ""
}

// NonceKey returns the replay-counter key for the target. Each gift and each
// step carries its own counter.
func (t ClaimTarget) NonceKey() string {
	if t.IsStep() {
		return fmt.Sprintf("c/%s/%d", t.ChainID, t.StepIndex)
	}
	return fmt.Sprintf("g/%d", t.GiftID)
}

func (t ClaimTarget) String() string {
	return t.NonceKey()
}

// ClaimMandateMessage builds the canonical statement a recipient signs to
// authorize a relay claim. It binds the target, the recipient, a digest of
// the exact proof the relay will submit, and the target's current nonce;
// consuming the nonce on the ledger invalidates every copy of the mandate.
func ClaimMandateMessage(
	target ClaimTarget,
	recipient Principal,
	proofDigest [32]byte,
	nonce uint64,
) []byte {
	return Message(
		TagClaimMandate,
		[]byte(target.NonceKey()),
		[]byte(recipient),
		proofDigest[:],
		uint64Field(nonce),
	)
}

// SignClaimMandate signs a claim mandate with the recipient's key
func SignClaimMandate(
	priv ed25519.PrivateKey,
	target ClaimTarget,
	recipient Principal,
	proofDigest [32]byte,
	nonce uint64,
) string {
	return Sign(priv, ClaimMandateMessage(target, recipient, proofDigest, nonce))
}

// VerifyClaimMandate rebuilds the mandate statement from the supplied fields
// and checks the signature against the recipient
func VerifyClaimMandate(
	target ClaimTarget,
	recipient Principal,
	proofDigest [32]byte,
	nonce uint64,
	sigHex string,
) error {
	return VerifyMessage(
		recipient,
		ClaimMandateMessage(target, recipient, proofDigest, nonce),
		sigHex,
	)
}
