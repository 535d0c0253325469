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
	"context"
	"fmt"
	"strconv"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
)

func (ls *LedgerState) requireOperator(caller string) (auth.Principal, error) {
	p, err := checkPrincipal(caller)
	if err != nil {
		return "", err
	}
	if !ls.config.Capabilities.Has(p, auth.CapabilityOperator) {
		return "", fmt.Errorf(
			"%w: operator capability required",
			ErrUnauthorizedCaller,
		)
	}
	return p, nil
}

// Deposit credits an account with new spendable value. Operator capability
// only; deposits are the sole way value enters the ledger.
func (ls *LedgerState) Deposit(
	ctx context.Context,
	caller string,
	to string,
	amount uint64,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	operator, err := ls.requireOperator(caller)
	if err != nil {
		return err
	}
	recipient, err := checkPrincipal(to)
	if err != nil {
		return err
	}
	if amount == 0 {
		return InsufficientAmountError{Have: 0, Need: 1}
	}
	now := ls.now()
	ls.Lock()
	defer ls.Unlock()
	var events []pendingEvent
	txn := ls.db.Transaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		if err := ls.creditBalance(txn, recipient, amount); err != nil {
			return err
		}
		evt := DepositEvent{
			Operator: string(operator),
			To:       string(recipient),
			Amount:   amount,
		}
		if err := ls.appendJournal(txn, DepositEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: DepositEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return err
	}
	ls.metrics.depositsTotal.Add(float64(amount))
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf("deposit: %d units credited to %s", amount, recipient),
		"component",
		"ledger",
	)
	return nil
}

// SetFee updates the settlement fee rate for escrows created from now on.
// Existing escrows keep the rate they snapshotted at creation.
func (ls *LedgerState) SetFee(
	ctx context.Context,
	caller string,
	feeBps uint32,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ls.requireOperator(caller); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return InvalidParametersError{
			Field:  "fee_bps",
			Reason: fmt.Sprintf("exceeds %d", MaxFeeBps),
		}
	}
	now := ls.now()
	ls.Lock()
	defer ls.Unlock()
	var events []pendingEvent
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		oldBps, err := ls.currentFeeBps(txn)
		if err != nil {
			return err
		}
		err = ls.db.SetParam(
			models.ParamFeeBps,
			strconv.FormatUint(uint64(feeBps), 10),
			txn,
		)
		if err != nil {
			return err
		}
		evt := FeeUpdatedEvent{
			Param:  models.ParamFeeBps,
			OldBps: oldBps,
			NewBps: feeBps,
		}
		if err := ls.appendJournal(txn, FeeUpdatedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: FeeUpdatedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return err
	}
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf("settlement fee set to %d bps", feeBps),
		"component",
		"ledger",
	)
	return nil
}

// SetFeeRecipient updates where settlement fees are credited. An empty
// recipient waives fees at settlement time.
func (ls *LedgerState) SetFeeRecipient(
	ctx context.Context,
	caller string,
	recipient string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ls.requireOperator(caller); err != nil {
		return err
	}
	if recipient != "" {
		if _, err := checkPrincipal(recipient); err != nil {
			return err
		}
	}
	now := ls.now()
	ls.Lock()
	defer ls.Unlock()
	var events []pendingEvent
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		old, err := ls.db.GetParam(models.ParamFeeRecipient, txn)
		if err != nil {
			return err
		}
		err = ls.db.SetParam(models.ParamFeeRecipient, recipient, txn)
		if err != nil {
			return err
		}
		evt := FeeUpdatedEvent{
			Param:        models.ParamFeeRecipient,
			OldRecipient: old,
			NewRecipient: recipient,
		}
		if err := ls.appendJournal(txn, FeeUpdatedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: FeeUpdatedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return err
	}
	ls.publishEvents(events)
	ls.config.Logger.Info(
		"settlement fee recipient updated",
		"component",
		"ledger",
	)
	return nil
}
