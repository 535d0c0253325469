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
	"context"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/ledger"
	"github.com/cachet-io/cachet/unlock"
)

// Ledger is the interface the API server uses to drive the escrow ledger.
// This decouples the HTTP surface from the concrete LedgerState and enables
// testing handlers against mock implementations.
type Ledger interface {
	// CreateGift escrows a new single-step gift and returns its ID.
	CreateGift(
		ctx context.Context,
		caller string,
		params ledger.CreateGiftParams,
	) (uint64, error)

	// GetGift returns a gift by ID.
	GetGift(giftID uint64) (*models.Gift, error)

	// GetGifts returns gifts matching the query plus the total match
	// count before pagination.
	GetGifts(query models.GiftQuery) ([]models.Gift, int64, error)

	// ClaimGift settles a gift against the recipient's proof.
	ClaimGift(
		ctx context.Context,
		caller string,
		giftID uint64,
		proof unlock.Proof,
	) (ledger.ClaimOutcome, error)

	// RelayClaimGift settles a gift on the recipient's behalf under a
	// signed claim mandate.
	RelayClaimGift(
		ctx context.Context,
		caller string,
		giftID uint64,
		recipient string,
		proof unlock.Proof,
		nonce uint64,
		sig string,
	) (ledger.ClaimOutcome, error)

	// RefundGift returns an expired gift's amount to its creator.
	RefundGift(ctx context.Context, caller string, giftID uint64) error

	// RecoverGift force-returns an unclaimed gift's amount to its
	// creator under the emergency capability.
	RecoverGift(ctx context.Context, caller string, giftID uint64) error

	// CreateChain escrows a new multi-step chain and returns its ID.
	CreateChain(
		ctx context.Context,
		caller string,
		params ledger.CreateChainParams,
	) (string, error)

	// GetChain returns a chain by ID.
	GetChain(chainID string) (*models.Chain, error)

	// GetChains returns chains matching the query plus the total match
	// count before pagination.
	GetChains(query models.ChainQuery) ([]models.Chain, int64, error)

	// GetChainSteps returns a chain's steps in order.
	GetChainSteps(chainID string) ([]models.ChainStep, error)

	// GetStepReward returns a completed step's reward content and
	// content type.
	GetStepReward(chainID string, stepIndex uint32) ([]byte, string, error)

	// ClaimStep settles the chain's current step against the
	// recipient's proof.
	ClaimStep(
		ctx context.Context,
		caller string,
		chainID string,
		stepIndex uint32,
		proof unlock.Proof,
	) (ledger.ClaimOutcome, error)

	// RelayClaimStep settles a chain step on the recipient's behalf
	// under a signed claim mandate.
	RelayClaimStep(
		ctx context.Context,
		caller string,
		chainID string,
		stepIndex uint32,
		recipient string,
		proof unlock.Proof,
		nonce uint64,
		sig string,
	) (ledger.ClaimOutcome, error)

	// RefundChain returns an expired chain's uncompleted step amounts
	// to its creator.
	RefundChain(ctx context.Context, caller string, chainID string) error

	// RecoverChain force-returns an unfinished chain's remaining
	// amounts to its creator under the emergency capability.
	RecoverChain(ctx context.Context, caller string, chainID string) error

	// GetAttempts returns the attempt audit trail for a claim target.
	GetAttempts(target auth.ClaimTarget) ([]models.Attempt, error)

	// GetNonce returns the current relay nonce for a claim target.
	GetNonce(target auth.ClaimTarget) (uint64, error)

	// GetBalance returns a principal's spendable balance.
	GetBalance(principal string) (uint64, error)

	// Deposit credits an account with new spendable value under the
	// operator capability.
	Deposit(ctx context.Context, caller string, to string, amount uint64) error

	// FeeBps returns the settlement fee rate new escrows will snapshot.
	FeeBps() (uint32, error)

	// FeeRecipient returns the configured fee recipient, empty when
	// fees are waived.
	FeeRecipient() (string, error)

	// SetFee updates the settlement fee rate under the operator
	// capability.
	SetFee(ctx context.Context, caller string, feeBps uint32) error

	// SetFeeRecipient updates where settlement fees are credited under
	// the operator capability.
	SetFeeRecipient(ctx context.Context, caller string, recipient string) error

	// GetStats assembles the ledger activity overview.
	GetStats() (ledger.Stats, error)

	// ValueLocked returns the total value currently held in escrow.
	ValueLocked() (uint64, error)

	// JournalSeq returns the sequence number of the newest journal
	// entry.
	JournalSeq() (uint64, error)

	// JournalEventsSince replays journal entries starting after the
	// given sequence number.
	JournalEventsSince(afterSeq uint64, maxCount int) ([]ledger.JournalEvent, error)
}

var _ Ledger = (*ledger.LedgerState)(nil)
