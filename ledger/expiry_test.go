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
	"testing"
	"time"

	"github.com/cachet-io/cachet/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweepFlagsOnce(t *testing.T) {
	ls, clock := newTestLedger(t, "")
	ctx := context.Background()
	fund(t, ls, testCreator, 7000000)

	giftID, err := ls.CreateGift(
		ctx,
		string(testCreator),
		passwordGiftParams(testRecipient, clock.Now()),
	)
	require.NoError(t, err)
	chainID, err := ls.CreateChain(
		ctx,
		string(testCreator),
		threeStepChainParams(testRecipient, clock.Now()),
	)
	require.NoError(t, err)

	// Nothing is due yet
	require.NoError(t, ls.sweepExpired())
	assert.False(t, mustGetGift(t, ls, giftID).ExpiredNotice)

	clock.Advance(72 * time.Hour)
	require.NoError(t, ls.sweepExpired())

	// The sweep flags and journals; it never moves value or changes status
	gift := mustGetGift(t, ls, giftID)
	assert.True(t, gift.ExpiredNotice)
	assert.False(t, gift.Terminal())
	tmpChain, err := ls.GetChain(chainID)
	require.NoError(t, err)
	assert.True(t, tmpChain.ExpiredNotice)
	assert.False(t, tmpChain.Terminal())
	locked, err := ls.ValueLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(7000000), locked)

	evts, err := ls.JournalEventsSince(0, 0)
	require.NoError(t, err)
	// deposit, gift.created, chain.created, then the two expiry notices
	require.Len(t, evts, 5)
	assert.Equal(t, string(GiftExpiredEventType), evts[3].Type)
	assert.Equal(t, string(ChainExpiredEventType), evts[4].Type)

	// A second sweep finds nothing new to flag
	require.NoError(t, ls.sweepExpired())
	evts, err = ls.JournalEventsSince(0, 0)
	require.NoError(t, err)
	assert.Len(t, evts, 5)

	// Claims reject on the clock whether or not the notice landed
	_, err = ls.ClaimGift(
		ctx,
		string(testRecipient),
		giftID,
		unlock.Proof{Answer: testAnswer},
	)
	require.ErrorIs(t, err, ErrExpired)

	// Refund remains a creator-initiated call after the notice
	require.NoError(t, ls.RefundGift(ctx, string(testCreator), giftID))
	require.NoError(t, ls.RefundChain(ctx, string(testCreator), chainID))
	locked, err = ls.ValueLocked()
	require.NoError(t, err)
	assert.Zero(t, locked)
}
