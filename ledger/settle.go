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
	"fmt"
	"math"
	"strconv"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
)

// computeFee splits an amount into fee and payout using the basis points
// recorded at creation. The fee rounds down and fee+payout always equals
// the amount. Factoring out the quotient first keeps the multiply within
// uint64 range for any amount.
func computeFee(amount uint64, feeBps uint32) (uint64, uint64) {
	bps := uint64(feeBps)
	fee := (amount/feeDivisor)*bps + (amount%feeDivisor)*bps/feeDivisor
	return fee, amount - fee
}

// settlement reports where a settled amount went
type settlement struct {
	Fee         uint64
	Payout      uint64
	ValueLocked uint64
}

// settle releases an escrowed amount and pays it out: the fee share to the
// configured fee recipient and the remainder to the claimer. With no fee
// recipient configured the fee is waived rather than stranded.
func (ls *LedgerState) settle(
	txn *database.Txn,
	recipient auth.Principal,
	amount uint64,
	feeBps uint32,
) (settlement, error) {
	var ret settlement
	fee, payout := computeFee(amount, feeBps)
	feeRecipient, err := ls.db.GetParam(models.ParamFeeRecipient, txn)
	if err != nil {
		return ret, err
	}
	if feeRecipient == "" {
		fee = 0
		payout = amount
	}
	locked, err := ls.releaseValue(txn, amount)
	if err != nil {
		return ret, err
	}
	if fee > 0 {
		if err := ls.creditBalance(txn, auth.Principal(feeRecipient), fee); err != nil {
			return ret, err
		}
	}
	if err := ls.creditBalance(txn, recipient, payout); err != nil {
		return ret, err
	}
	ret = settlement{
		Fee:         fee,
		Payout:      payout,
		ValueLocked: locked,
	}
	return ret, nil
}

// refundValue releases an escrowed amount back to its creator
func (ls *LedgerState) refundValue(
	txn *database.Txn,
	creator auth.Principal,
	amount uint64,
) (uint64, error) {
	locked, err := ls.releaseValue(txn, amount)
	if err != nil {
		return 0, err
	}
	if err := ls.creditBalance(txn, creator, amount); err != nil {
		return 0, err
	}
	return locked, nil
}

func (ls *LedgerState) creditBalance(
	txn *database.Txn,
	principal auth.Principal,
	amount uint64,
) error {
	account, err := ls.db.GetAccount(string(principal), txn)
	if err != nil {
		return err
	}
	if account == nil {
		account = &models.Account{Principal: string(principal)}
	}
	if uint64(account.Balance) > math.MaxUint64-amount {
		return fmt.Errorf(
			"%w: credit would overflow account %s",
			ErrTransferFailed,
			principal,
		)
	}
	account.Balance += types.Uint64(amount)
	return ls.db.SetAccount(account, txn)
}

func (ls *LedgerState) debitBalance(
	txn *database.Txn,
	principal auth.Principal,
	amount uint64,
) error {
	account, err := ls.db.GetAccount(string(principal), txn)
	if err != nil {
		return err
	}
	var balance uint64
	if account != nil {
		balance = uint64(account.Balance)
	}
	if balance < amount {
		return InsufficientAmountError{Have: balance, Need: amount}
	}
	if account == nil {
		account = &models.Account{Principal: string(principal)}
	}
	account.Balance = types.Uint64(balance - amount)
	return ls.db.SetAccount(account, txn)
}

// lockValue moves an amount into escrow custody and returns the new total
func (ls *LedgerState) lockValue(
	txn *database.Txn,
	amount uint64,
) (uint64, error) {
	locked, err := ls.getValueLocked(txn)
	if err != nil {
		return 0, err
	}
	if locked > math.MaxUint64-amount {
		return 0, fmt.Errorf(
			"%w: locked value would overflow",
			ErrTransferFailed,
		)
	}
	next := locked + amount
	if err := ls.setValueLocked(txn, next); err != nil {
		return 0, err
	}
	return next, nil
}

// releaseValue moves an amount out of escrow custody and returns the new
// total. Releasing more than is held means the books no longer balance and
// nothing may settle.
func (ls *LedgerState) releaseValue(
	txn *database.Txn,
	amount uint64,
) (uint64, error) {
	locked, err := ls.getValueLocked(txn)
	if err != nil {
		return 0, err
	}
	if locked < amount {
		return 0, fmt.Errorf(
			"%w: release %d exceeds locked value %d",
			ErrTransferFailed,
			amount,
			locked,
		)
	}
	next := locked - amount
	if err := ls.setValueLocked(txn, next); err != nil {
		return 0, err
	}
	return next, nil
}

// currentFeeBps returns the fee rate a new escrow snapshots at creation
func (ls *LedgerState) currentFeeBps(txn *database.Txn) (uint32, error) {
	val, err := ls.db.GetParam(models.ParamFeeBps, txn)
	if err != nil {
		return 0, err
	}
	if val == "" {
		return DefaultFeeBps, nil
	}
	parsed, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse fee bps param: %w", err)
	}
	return uint32(parsed), nil
}

func (ls *LedgerState) getValueLocked(txn *database.Txn) (uint64, error) {
	val, err := ls.db.GetParam(models.ParamValueLocked, txn)
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	return strconv.ParseUint(val, 10, 64)
}

func (ls *LedgerState) setValueLocked(
	txn *database.Txn,
	locked uint64,
) error {
	return ls.db.SetParam(
		models.ParamValueLocked,
		strconv.FormatUint(locked, 10),
		txn,
	)
}
