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

package ledger

import (
	"encoding/json"

	"github.com/cachet-io/cachet/event"
)

// Event types emitted by the ledger. Each fires exactly once per state
// transition: the journal entry commits with the transition and the bus
// publish follows the commit.
const (
	GiftCreatedEventType        event.EventType = "gift.created"
	GiftClaimAttemptEventType   event.EventType = "gift.claim_attempt"
	GiftClaimedEventType        event.EventType = "gift.claimed"
	GiftRefundedEventType       event.EventType = "gift.refunded"
	GiftExpiredEventType        event.EventType = "gift.expired"
	ChainCreatedEventType       event.EventType = "chain.created"
	ChainClaimAttemptEventType  event.EventType = "chain.claim_attempt"
	ChainStepCompletedEventType event.EventType = "chain.step_completed"
	ChainCompletedEventType     event.EventType = "chain.completed"
	ChainRefundedEventType      event.EventType = "chain.refunded"
	ChainExpiredEventType       event.EventType = "chain.expired"
	DepositEventType            event.EventType = "ledger.deposit"
	FeeUpdatedEventType         event.EventType = "ledger.fee_updated"
)

// Refund reasons carried by refund events
const (
	RefundReasonExpiry    = "expiry"
	RefundReasonEmergency = "emergency"
)

// GiftCreatedEvent reports a new single-step escrow
type GiftCreatedEvent struct {
	GiftID     uint64 `json:"gift_id"`
	Creator    string `json:"creator"`
	Recipient  string `json:"recipient"`
	Amount     uint64 `json:"amount"`
	UnlockType string `json:"unlock_type"`
	ExpiresAt  int64  `json:"expires_at"`
}

// ClaimAttemptEvent represents one verifier invocation against a gift or a
// chain step. We use a single event type for both so subscribers can track
// attempt activity without caring which kind of target it was. Target is the
// nonce-key form of the target ("g/<id>" or "c/<chainId>/<stepIndex>").
type ClaimAttemptEvent struct {
	Target    string `json:"target"`
	Attempt   uint64 `json:"attempt"`
	Recipient string `json:"recipient"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Distance  int64  `json:"distance"`
	Relayed   bool   `json:"relayed"`
}

// GiftClaimedEvent reports a settled gift
type GiftClaimedEvent struct {
	GiftID    uint64 `json:"gift_id"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Payout    uint64 `json:"payout"`
	Relayed   bool   `json:"relayed"`
}

// GiftRefundedEvent reports escrowed value returned to the creator
type GiftRefundedEvent struct {
	GiftID  uint64 `json:"gift_id"`
	Creator string `json:"creator"`
	Amount  uint64 `json:"amount"`
	Reason  string `json:"reason"`
}

// GiftExpiredEvent reports the expiry sweep noticing a past-due gift
type GiftExpiredEvent struct {
	GiftID    uint64 `json:"gift_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// ChainCreatedEvent reports a new multi-step escrow
type ChainCreatedEvent struct {
	ChainID     string `json:"chain_id"`
	Creator     string `json:"creator"`
	Recipient   string `json:"recipient"`
	TotalAmount uint64 `json:"total_amount"`
	StepCount   uint32 `json:"step_count"`
	ExpiresAt   int64  `json:"expires_at"`
}

// ChainStepCompletedEvent reports one settled chain step
type ChainStepCompletedEvent struct {
	ChainID   string `json:"chain_id"`
	StepIndex uint32 `json:"step_index"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Payout    uint64 `json:"payout"`
	Relayed   bool   `json:"relayed"`
}

// ChainCompletedEvent reports the final step of a chain settling
type ChainCompletedEvent struct {
	ChainID     string `json:"chain_id"`
	Recipient   string `json:"recipient"`
	TotalAmount uint64 `json:"total_amount"`
}

// ChainRefundedEvent reports uncompleted step value returned to the creator
type ChainRefundedEvent struct {
	ChainID  string `json:"chain_id"`
	Creator  string `json:"creator"`
	Refunded uint64 `json:"refunded"`
	Reason   string `json:"reason"`
}

// ChainExpiredEvent reports the expiry sweep noticing a past-due chain
type ChainExpiredEvent struct {
	ChainID   string `json:"chain_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// DepositEvent reports an operator crediting an account
type DepositEvent struct {
	Operator string `json:"operator"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
}

// FeeUpdatedEvent reports a settlement parameter change. Param is "fee_bps"
// or "fee_recipient"; only the matching old/new pair is populated.
type FeeUpdatedEvent struct {
	Param        string `json:"param"`
	OldBps       uint32 `json:"old_bps,omitempty"`
	NewBps       uint32 `json:"new_bps,omitempty"`
	OldRecipient string `json:"old_recipient,omitempty"`
	NewRecipient string `json:"new_recipient,omitempty"`
}

// journalEntry is the stored JSON form of one emitted event. The sequence
// number lives in the blob key and gets attached on read.
type journalEntry struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// JournalEvent is one journal entry as returned to consumers replaying the
// ledger's event history
type JournalEvent struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
