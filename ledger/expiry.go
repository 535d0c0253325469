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
	"time"

	"github.com/cachet-io/cachet/database"
)

func (ls *LedgerState) scheduleExpirySweep() {
	ls.Lock()
	defer ls.Unlock()
	if ls.closed {
		return
	}
	if ls.timerExpirySweep != nil {
		ls.timerExpirySweep.Stop()
	}
	ls.timerExpirySweep = time.AfterFunc(
		ls.config.ExpirySweepInterval,
		func() {
			defer func() {
				// Schedule the next run
				ls.scheduleExpirySweep()
			}()
			if err := ls.sweepExpired(); err != nil {
				ls.config.Logger.Error(
					"failed to sweep expired escrows",
					"component", "ledger",
					"error", err,
				)
			}
		},
	)
}

// sweepExpired flags past-due unclaimed escrows exactly once and emits their
// expiry events. The flag is a notice for listings and subscribers; claim
// rejection is always evaluated against the clock, never the flag. No value
// moves here; refund stays a creator-initiated call.
func (ls *LedgerState) sweepExpired() error {
	now := ls.now()
	ls.Lock()
	defer ls.Unlock()
	if ls.closed {
		return nil
	}
	var events []pendingEvent
	var giftCount, chainCount int
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		gifts, err := ls.db.GetGiftsExpiringBefore(now.Unix(), txn)
		if err != nil {
			return err
		}
		for i := range gifts {
			gift := gifts[i]
			gift.ExpiredNotice = true
			if err := ls.db.SetGift(&gift, txn); err != nil {
				return err
			}
			evt := GiftExpiredEvent{
				GiftID:    gift.ID,
				ExpiresAt: gift.ExpiresAt,
			}
			if err := ls.appendJournal(txn, GiftExpiredEventType, now.Unix(), &evt); err != nil {
				return err
			}
			events = append(
				events,
				pendingEvent{Type: GiftExpiredEventType, Payload: &evt},
			)
		}
		giftCount = len(gifts)
		chains, err := ls.db.GetChainsExpiringBefore(now.Unix(), txn)
		if err != nil {
			return err
		}
		for i := range chains {
			tmpChain := chains[i]
			tmpChain.ExpiredNotice = true
			if err := ls.db.SetChain(&tmpChain, txn); err != nil {
				return err
			}
			evt := ChainExpiredEvent{
				ChainID:   tmpChain.ID,
				ExpiresAt: tmpChain.ExpiresAt,
			}
			if err := ls.appendJournal(txn, ChainExpiredEventType, now.Unix(), &evt); err != nil {
				return err
			}
			events = append(
				events,
				pendingEvent{Type: ChainExpiredEventType, Payload: &evt},
			)
		}
		chainCount = len(chains)
		return nil
	})
	if err != nil {
		return err
	}
	if giftCount > 0 {
		ls.metrics.expiredTotal.WithLabelValues("gift").Add(float64(giftCount))
	}
	if chainCount > 0 {
		ls.metrics.expiredTotal.WithLabelValues("chain").Add(float64(chainCount))
	}
	if len(events) > 0 {
		ls.publishEvents(events)
		ls.config.Logger.Info(
			fmt.Sprintf(
				"expiry sweep flagged %d gifts and %d chains",
				giftCount,
				chainCount,
			),
			"component",
			"ledger",
		)
	}
	return nil
}
