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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositRequiresOperator(t *testing.T) {
	ls, _ := newTestLedger(t, "")
	ctx := context.Background()

	err := ls.Deposit(ctx, string(testCreator), string(testCreator), 1000)
	require.ErrorIs(t, err, ErrUnauthorizedCaller)
	assert.Zero(t, balanceOf(t, ls, testCreator))

	err = ls.Deposit(ctx, string(testOperator), string(testCreator), 0)
	require.ErrorIs(t, err, ErrInsufficientAmount)

	err = ls.Deposit(ctx, string(testOperator), "not-a-principal", 1000)
	require.ErrorIs(t, err, ErrInvalidParameters)

	require.NoError(
		t,
		ls.Deposit(ctx, string(testOperator), string(testCreator), 1000),
	)
	assert.Equal(t, uint64(1000), balanceOf(t, ls, testCreator))

	// Deposits accumulate
	require.NoError(
		t,
		ls.Deposit(ctx, string(testOperator), string(testCreator), 500),
	)
	assert.Equal(t, uint64(1500), balanceOf(t, ls, testCreator))
}

func TestSetFee(t *testing.T) {
	ls, _ := newTestLedger(t, "")
	ctx := context.Background()

	err := ls.SetFee(ctx, string(testCreator), 100)
	require.ErrorIs(t, err, ErrUnauthorizedCaller)

	err = ls.SetFee(ctx, string(testOperator), MaxFeeBps+1)
	require.ErrorIs(t, err, ErrInvalidParameters)

	// The cap itself is allowed
	require.NoError(t, ls.SetFee(ctx, string(testOperator), MaxFeeBps))
	feeBps, err := ls.FeeBps()
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxFeeBps), feeBps)

	// Zero disables fees for new escrows
	require.NoError(t, ls.SetFee(ctx, string(testOperator), 0))
	feeBps, err = ls.FeeBps()
	require.NoError(t, err)
	assert.Zero(t, feeBps)
}

func TestSetFeeRecipient(t *testing.T) {
	ls, _ := newTestLedger(t, "")
	ctx := context.Background()

	err := ls.SetFeeRecipient(ctx, string(testCreator), string(testFeeTaker))
	require.ErrorIs(t, err, ErrUnauthorizedCaller)

	err = ls.SetFeeRecipient(ctx, string(testOperator), "not-a-principal")
	require.ErrorIs(t, err, ErrInvalidParameters)

	require.NoError(
		t,
		ls.SetFeeRecipient(ctx, string(testOperator), string(testFeeTaker)),
	)
	recipient, err := ls.FeeRecipient()
	require.NoError(t, err)
	assert.Equal(t, string(testFeeTaker), recipient)

	// Clearing the recipient waives fees again
	require.NoError(t, ls.SetFeeRecipient(ctx, string(testOperator), ""))
	recipient, err = ls.FeeRecipient()
	require.NoError(t, err)
	assert.Empty(t, recipient)
}
