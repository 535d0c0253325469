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
	"math"
	"testing"
)

func TestComputeFee(t *testing.T) {
	testDefs := []struct {
		amount         uint64
		feeBps         uint32
		expectedFee    uint64
		expectedPayout uint64
	}{
		{
			amount:         1000000,
			feeBps:         250,
			expectedFee:    25000,
			expectedPayout: 975000,
		},
		// Fees round down, so tiny amounts settle in full
		{
			amount:         1,
			feeBps:         250,
			expectedFee:    0,
			expectedPayout: 1,
		},
		{
			amount:         39,
			feeBps:         250,
			expectedFee:    0,
			expectedPayout: 39,
		},
		{
			amount:         40,
			feeBps:         250,
			expectedFee:    1,
			expectedPayout: 39,
		},
		{
			amount:         999,
			feeBps:         1000,
			expectedFee:    99,
			expectedPayout: 900,
		},
		{
			amount:         123456789,
			feeBps:         0,
			expectedFee:    0,
			expectedPayout: 123456789,
		},
		// The split must not overflow at the top of the range
		{
			amount:         math.MaxUint64,
			feeBps:         1000,
			expectedFee:    1844674407370955161,
			expectedPayout: 16602069666338596454,
		},
	}
	for _, testDef := range testDefs {
		fee, payout := computeFee(testDef.amount, testDef.feeBps)
		if fee != testDef.expectedFee {
			t.Errorf(
				"computeFee(%d, %d) fee = %d, expected %d",
				testDef.amount,
				testDef.feeBps,
				fee,
				testDef.expectedFee,
			)
		}
		if payout != testDef.expectedPayout {
			t.Errorf(
				"computeFee(%d, %d) payout = %d, expected %d",
				testDef.amount,
				testDef.feeBps,
				payout,
				testDef.expectedPayout,
			)
		}
		if fee+payout != testDef.amount {
			t.Errorf(
				"computeFee(%d, %d) fee %d + payout %d != amount",
				testDef.amount,
				testDef.feeBps,
				fee,
				payout,
			)
		}
	}
}
