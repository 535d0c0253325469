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
	"fmt"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database/models"
)

// GetGift returns a gift by ID
func (ls *LedgerState) GetGift(giftID uint64) (*models.Gift, error) {
	gift, err := ls.db.GetGift(giftID, nil)
	if err != nil {
		return nil, err
	}
	if gift == nil {
		return nil, ErrNotFound
	}
	return gift, nil
}

// GetGifts returns gifts matching the query plus the total match count
// before pagination
func (ls *LedgerState) GetGifts(
	query models.GiftQuery,
) ([]models.Gift, int64, error) {
	return ls.db.GetGifts(query, nil)
}

// GetChain returns a chain by ID
func (ls *LedgerState) GetChain(chainID string) (*models.Chain, error) {
	tmpChain, err := ls.db.GetChain(chainID, nil)
	if err != nil {
		return nil, err
	}
	if tmpChain == nil {
		return nil, ErrNotFound
	}
	return tmpChain, nil
}

// GetChains returns chains matching the query plus the total match count
// before pagination
func (ls *LedgerState) GetChains(
	query models.ChainQuery,
) ([]models.Chain, int64, error) {
	return ls.db.GetChains(query, nil)
}

// GetChainSteps returns a chain's steps in order
func (ls *LedgerState) GetChainSteps(
	chainID string,
) ([]models.ChainStep, error) {
	tmpChain, err := ls.db.GetChain(chainID, nil)
	if err != nil {
		return nil, err
	}
	if tmpChain == nil {
		return nil, ErrNotFound
	}
	return ls.db.GetChainSteps(chainID, nil)
}

// GetStepReward returns a completed step's reward content and content type.
// Content stays sealed until the step settles.
func (ls *LedgerState) GetStepReward(
	chainID string,
	stepIndex uint32,
) ([]byte, string, error) {
	step, err := ls.db.GetChainStep(chainID, stepIndex, nil)
	if err != nil {
		return nil, "", err
	}
	if step == nil {
		return nil, "", ErrNotFound
	}
	if !step.HasRewardContent {
		return nil, "", ErrNotFound
	}
	if !step.Completed {
		return nil, "", fmt.Errorf(
			"%w: reward content stays sealed until the step completes",
			ErrStepNotUnlocked,
		)
	}
	content, err := ls.db.GetChainStepReward(chainID, stepIndex, nil)
	if err != nil {
		return nil, "", err
	}
	return content, step.RewardContentType, nil
}

// GetAttempts returns the attempt audit trail for a claim target in order
func (ls *LedgerState) GetAttempts(
	target auth.ClaimTarget,
) ([]models.Attempt, error) {
	return ls.db.GetAttempts(target.NonceKey(), nil)
}

// GetNonce returns the current relay nonce for a claim target. A mandate
// must be signed over exactly this value to authorize the next relay claim.
func (ls *LedgerState) GetNonce(target auth.ClaimTarget) (uint64, error) {
	return ls.db.GetNonce(target.NonceKey(), nil)
}

// GetBalance returns a principal's spendable balance
func (ls *LedgerState) GetBalance(principal string) (uint64, error) {
	p, err := checkPrincipal(principal)
	if err != nil {
		return 0, err
	}
	account, err := ls.db.GetAccount(string(p), nil)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, nil
	}
	return uint64(account.Balance), nil
}

// FeeBps returns the settlement fee rate new escrows will snapshot
func (ls *LedgerState) FeeBps() (uint32, error) {
	txn := ls.db.Transaction(false)
	defer txn.Commit() //nolint:errcheck
	return ls.currentFeeBps(txn)
}

// FeeRecipient returns the configured fee recipient, empty when fees are
// waived
func (ls *LedgerState) FeeRecipient() (string, error) {
	return ls.db.GetParam(models.ParamFeeRecipient, nil)
}

// ValueLocked returns the total value currently held in escrow
func (ls *LedgerState) ValueLocked() (uint64, error) {
	txn := ls.db.Transaction(false)
	defer txn.Commit() //nolint:errcheck
	return ls.getValueLocked(txn)
}

// Stats is a point-in-time overview of ledger activity
type Stats struct {
	GiftsTotal       int64  `json:"gifts_total"`
	GiftsActive      int64  `json:"gifts_active"`
	GiftsClaimed     int64  `json:"gifts_claimed"`
	ChainsTotal      int64  `json:"chains_total"`
	ChainsActive     int64  `json:"chains_active"`
	ChainsCompleted  int64  `json:"chains_completed"`
	Attempts         int64  `json:"attempts"`
	SuccessfulClaims int64  `json:"successful_claims"`
	ValueLocked      uint64 `json:"value_locked"`
	JournalSeq       uint64 `json:"journal_seq"`
}

// GetStats assembles the activity overview
func (ls *LedgerState) GetStats() (Stats, error) {
	var stats Stats
	countGifts := func(status *uint8) (int64, error) {
		_, total, err := ls.db.GetGifts(
			models.GiftQuery{Status: status, Limit: 1},
			nil,
		)
		return total, err
	}
	countChains := func(status *uint8) (int64, error) {
		_, total, err := ls.db.GetChains(
			models.ChainQuery{Status: status, Limit: 1},
			nil,
		)
		return total, err
	}
	var err error
	if stats.GiftsTotal, err = countGifts(nil); err != nil {
		return stats, err
	}
	activeStatus := models.StatusActive
	if stats.GiftsActive, err = countGifts(&activeStatus); err != nil {
		return stats, err
	}
	claimedStatus := models.StatusClaimed
	if stats.GiftsClaimed, err = countGifts(&claimedStatus); err != nil {
		return stats, err
	}
	if stats.ChainsTotal, err = countChains(nil); err != nil {
		return stats, err
	}
	if stats.ChainsActive, err = countChains(&activeStatus); err != nil {
		return stats, err
	}
	completedStatus := models.StatusCompleted
	if stats.ChainsCompleted, err = countChains(&completedStatus); err != nil {
		return stats, err
	}
	// Attempt counters come straight off the metadata store
	db := ls.db.Metadata().DB()
	result := db.Model(&models.Attempt{}).Count(&stats.Attempts)
	if result.Error != nil {
		return stats, fmt.Errorf("count attempts: %w", result.Error)
	}
	result = db.Model(&models.Attempt{}).
		Where("outcome = ?", models.AttemptOutcomeSuccess).
		Count(&stats.SuccessfulClaims)
	if result.Error != nil {
		return stats, fmt.Errorf("count successful claims: %w", result.Error)
	}
	if stats.ValueLocked, err = ls.ValueLocked(); err != nil {
		return stats, err
	}
	if stats.JournalSeq, err = ls.db.GetJournalSeq(nil); err != nil {
		return stats, err
	}
	return stats, nil
}

// JournalSeq returns the sequence number of the newest journal entry, zero
// when the journal is empty
func (ls *LedgerState) JournalSeq() (uint64, error) {
	return ls.db.GetJournalSeq(nil)
}

// JournalEventsSince replays journal entries starting after the given
// sequence number. A maxCount of 0 means no limit.
func (ls *LedgerState) JournalEventsSince(
	afterSeq uint64,
	maxCount int,
) ([]JournalEvent, error) {
	records, err := ls.db.GetJournalEntries(afterSeq+1, maxCount, nil)
	if err != nil {
		return nil, err
	}
	ret := make([]JournalEvent, 0, len(records))
	for _, record := range records {
		var evt JournalEvent
		if err := json.Unmarshal(record.Entry, &evt); err != nil {
			return nil, fmt.Errorf(
				"unmarshal journal entry %d: %w",
				record.Seq,
				err,
			)
		}
		evt.Seq = record.Seq
		ret = append(ret, evt)
	}
	return ret, nil
}
