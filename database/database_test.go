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

package database_test

import (
	"errors"
	"testing"

	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(nil, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	return db
}

func TestTransactionSpansBothStores(t *testing.T) {
	db := newTestDatabase(t)

	gift := &models.Gift{
		Creator:             "8c6e3effa2d1f8bdc2e3f86a94ab1bd1c3e1b7ce3c2b8d3cb3dbe7b1928dfd31",
		Recipient:           "7a1b7ce3c2b8d3cb3dbe7b1928dfd318c6e3effa2d1f8bdc2e3f86a94ab1bd1c",
		Amount:              1000000,
		FeeBps:              250,
		LastAttemptDistance: -1,
	}
	txn := db.Transaction(true)
	require.NoError(t, db.SetGift(gift, txn))
	seq, err := db.AddJournalEntry(
		[]byte(`{"type":"gift.created","gift_id":1}`),
		txn,
	)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	require.NoError(t, txn.Commit())

	got, err := db.GetGift(gift.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, gift.Creator, got.Creator)

	entry, err := db.GetJournalEntry(1, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"gift.created","gift_id":1}`, string(entry))

	head, err := db.GetJournalSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head)

	// Both stores carry the same commit timestamp after a joint commit
	metadataTs, err := db.Metadata().GetCommitTimestamp()
	require.NoError(t, err)
	blobTs, err := db.Blob().GetCommitTimestamp()
	require.NoError(t, err)
	assert.Positive(t, metadataTs)
	assert.Equal(t, metadataTs, blobTs)
}

func TestRollbackSpansBothStores(t *testing.T) {
	db := newTestDatabase(t)

	gift := &models.Gift{
		Creator:             "1111111111111111111111111111111111111111111111111111111111111111",
		Recipient:           "2222222222222222222222222222222222222222222222222222222222222222",
		Amount:              500,
		LastAttemptDistance: -1,
	}
	txn := db.Transaction(true)
	require.NoError(t, db.SetGift(gift, txn))
	_, err := db.AddJournalEntry([]byte(`{"type":"gift.created"}`), txn)
	require.NoError(t, err)
	require.NoError(t, txn.Rollback())

	got, err := db.GetGift(gift.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	entry, err := db.GetJournalEntry(1, nil)
	require.NoError(t, err)
	assert.Nil(t, entry)

	head, err := db.GetJournalSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)
}

func TestJournalSequence(t *testing.T) {
	db := newTestDatabase(t)

	// Entries in separate transactions get consecutive sequence numbers
	for i := 1; i <= 3; i++ {
		seq, err := db.AddJournalEntry([]byte(`{"n":1}`), nil)
		require.NoError(t, err)
		require.Equal(t, uint64(i), seq) //nolint:gosec
	}

	// Entries within one transaction also advance the sequence
	txn := db.Transaction(true)
	seq, err := db.AddJournalEntry([]byte(`{"n":2}`), txn)
	require.NoError(t, err)
	require.Equal(t, uint64(4), seq)
	seq, err = db.AddJournalEntry([]byte(`{"n":3}`), txn)
	require.NoError(t, err)
	require.Equal(t, uint64(5), seq)
	require.NoError(t, txn.Commit())

	records, err := db.GetJournalEntries(2, 2, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].Seq)
	assert.Equal(t, uint64(3), records[1].Seq)

	records, err = db.GetJournalEntries(1, 0, nil)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Seq) //nolint:gosec
	}
}

func TestChainStepReward(t *testing.T) {
	db := newTestDatabase(t)

	chainId := "deadbeefdeadbeefdeadbeefdeadbeef"
	content := []byte("# You found it\n\nThe next clue is under the bridge.")
	require.NoError(t, db.SetChainStepReward(chainId, 1, content, nil))

	got, err := db.GetChainStepReward(chainId, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	missing, err := db.GetChainStepReward(chainId, 2, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTxnDo(t *testing.T) {
	db := newTestDatabase(t)

	gift := &models.Gift{
		Creator:             "3333333333333333333333333333333333333333333333333333333333333333",
		Recipient:           "4444444444444444444444444444444444444444444444444444444444444444",
		Amount:              100,
		LastAttemptDistance: -1,
	}

	// An error from the callback rolls everything back
	testErr := errors.New("nope")
	err := db.Transaction(true).Do(func(txn *database.Txn) error {
		if err := db.SetGift(gift, txn); err != nil {
			return err
		}
		return testErr
	})
	require.ErrorIs(t, err, testErr)
	got, err := db.GetGift(gift.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Success commits
	err = db.Transaction(true).Do(func(txn *database.Txn) error {
		return db.SetGift(gift, txn)
	})
	require.NoError(t, err)
	got, err = db.GetGift(gift.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, gift.Creator, got.Creator)
}

func TestNonceAndParamAccessors(t *testing.T) {
	db := newTestDatabase(t)

	val, err := db.GetNonce("g/9", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), val)

	require.NoError(t, db.SetNonce("g/9", 3, nil))
	val, err = db.GetNonce("g/9", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), val)

	param, err := db.GetParam(models.ParamFeeRecipient, nil)
	require.NoError(t, err)
	assert.Empty(t, param)

	require.NoError(t, db.SetParam(models.ParamFeeRecipient, "5555555555555555555555555555555555555555555555555555555555555555", nil))
	param, err = db.GetParam(models.ParamFeeRecipient, nil)
	require.NoError(t, err)
	assert.Equal(
		t,
		"5555555555555555555555555555555555555555555555555555555555555555",
		param,
	)
}
