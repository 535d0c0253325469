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
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
	"github.com/cachet-io/cachet/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnswer = "golden-acorn"

// Fixed principals for roles that never need to sign anything in these
// tests. Capability checks are membership tests, so any well-formed
// principal works.
var (
	testOperator = auth.NewPrincipal(
		bytes.Repeat([]byte{0xaa}, ed25519.PublicKeySize),
	)
	testEmergency = auth.NewPrincipal(
		bytes.Repeat([]byte{0xbb}, ed25519.PublicKeySize),
	)
	testCreator = auth.NewPrincipal(
		bytes.Repeat([]byte{0xcc}, ed25519.PublicKeySize),
	)
	testRecipient = auth.NewPrincipal(
		bytes.Repeat([]byte{0xdd}, ed25519.PublicKeySize),
	)
	testFeeTaker = auth.NewPrincipal(
		bytes.Repeat([]byte{0xee}, ed25519.PublicKeySize),
	)
)

// testClock is a manually advanced clock swapped in for LedgerState.now so
// expiry behavior is deterministic
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1756000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func generateTestKey(t *testing.T) (ed25519.PrivateKey, auth.Principal) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, auth.NewPrincipal(pub)
}

// newTestLedger builds a ledger with the standard test capability holders
// and a long sweep interval so the background timer stays out of the way.
// An empty dataDir keeps everything in memory.
func newTestLedger(t *testing.T, dataDir string) (*LedgerState, *testClock) {
	t.Helper()
	ls, err := NewLedgerState(LedgerStateConfig{
		DataDir: dataDir,
		Capabilities: auth.NewCapabilities(
			[]auth.Principal{testOperator},
			[]auth.Principal{testEmergency},
			nil,
		),
		ExpirySweepInterval: time.Hour,
	})
	require.NoError(t, err)
	clock := newTestClock()
	ls.now = clock.Now
	t.Cleanup(func() {
		ls.Close() //nolint:errcheck
	})
	return ls, clock
}

func fund(
	t *testing.T,
	ls *LedgerState,
	to auth.Principal,
	amount uint64,
) {
	t.Helper()
	require.NoError(
		t,
		ls.Deposit(context.Background(), string(testOperator), string(to), amount),
	)
}

func passwordGiftParams(
	recipient auth.Principal,
	now time.Time,
) CreateGiftParams {
	return CreateGiftParams{
		Recipient:    string(recipient),
		Amount:       1000000,
		UnlockType:   unlock.TypePassword,
		AnswerDigest: unlock.HashAnswer(testAnswer),
		Title:        "Birthday hunt",
		ExpiresAt:    now.Add(48 * time.Hour).Unix(),
	}
}

func balanceOf(t *testing.T, ls *LedgerState, p auth.Principal) uint64 {
	t.Helper()
	balance, err := ls.GetBalance(string(p))
	require.NoError(t, err)
	return balance
}

func TestNewLedgerStateSeedsParams(t *testing.T) {
	ls, _ := newTestLedger(t, "")

	feeBps, err := ls.FeeBps()
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultFeeBps), feeBps)

	feeRecipient, err := ls.FeeRecipient()
	require.NoError(t, err)
	assert.Empty(t, feeRecipient)

	locked, err := ls.ValueLocked()
	require.NoError(t, err)
	assert.Zero(t, locked)
}

func TestCloseIsIdempotent(t *testing.T) {
	ls, _ := newTestLedger(t, "")
	require.NoError(t, ls.Close())
	require.NoError(t, ls.Close())
}

func TestRestartPreservesState(t *testing.T) {
	dir := t.TempDir()
	ls, clock := newTestLedger(t, dir)
	fund(t, ls, testCreator, 2000000)
	giftID, err := ls.CreateGift(
		context.Background(),
		string(testCreator),
		passwordGiftParams(testRecipient, clock.Now()),
	)
	require.NoError(t, err)
	require.NoError(t, ls.Close())

	reopened, _ := newTestLedger(t, dir)
	gift, err := reopened.GetGift(giftID)
	require.NoError(t, err)
	assert.Equal(t, string(testCreator), gift.Creator)
	assert.Equal(t, models.StatusActive, gift.Status)

	// The derived locked value matched the recorded one, so startup passed
	locked, err := reopened.ValueLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), locked)
	assert.Equal(t, uint64(1000000), balanceOf(t, reopened, testCreator))
}

func TestStartupRejectsLockedValueMismatch(t *testing.T) {
	dir := t.TempDir()
	ls, clock := newTestLedger(t, dir)
	fund(t, ls, testCreator, 2000000)
	_, err := ls.CreateGift(
		context.Background(),
		string(testCreator),
		passwordGiftParams(testRecipient, clock.Now()),
	)
	require.NoError(t, err)
	require.NoError(t, ls.Close())

	// Tamper with the recorded locked value behind the ledger's back
	db, err := database.New(nil, dir, nil)
	require.NoError(t, err)
	require.NoError(t, db.SetParam(models.ParamValueLocked, "12345", nil))
	require.NoError(t, db.Close())

	_, err = NewLedgerState(LedgerStateConfig{
		DataDir:             dir,
		ExpirySweepInterval: time.Hour,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked value mismatch")
}

func TestRecoveryDiscardsOrphanedJournalEntries(t *testing.T) {
	dir := t.TempDir()
	ls, clock := newTestLedger(t, dir)
	fund(t, ls, testCreator, 2000000)
	_, err := ls.CreateGift(
		context.Background(),
		string(testCreator),
		passwordGiftParams(testRecipient, clock.Now()),
	)
	require.NoError(t, err)
	require.NoError(t, ls.Close())

	// Simulate a crash between the two store commits: a journal entry and a
	// newer commit timestamp land in the blob store, the matching metadata
	// never does
	db, err := database.New(nil, dir, nil)
	require.NoError(t, err)
	seq, err := db.GetJournalSeq(nil)
	require.NoError(t, err)
	require.Positive(t, seq)
	blobStore := db.Blob()
	blobTxn := blobStore.NewTransaction(true)
	require.NoError(t, blobStore.Set(
		blobTxn,
		types.JournalBlobKey(seq+1),
		[]byte(`{"type":"gift.created","timestamp":0,"payload":{}}`),
	))
	require.NoError(
		t,
		blobStore.SetCommitTimestamp(time.Now().UnixMilli()+1, blobTxn),
	)
	require.NoError(t, blobTxn.Commit())
	require.NoError(t, db.Close())

	// Reopening trips the commit timestamp check and recovery discards the
	// orphaned entry
	recovered, _ := newTestLedger(t, dir)
	events, err := recovered.JournalEventsSince(0, 0)
	require.NoError(t, err)
	require.Len(t, events, int(seq)) //nolint:gosec
	assert.Equal(t, seq, events[len(events)-1].Seq)

	// The journal accepts new entries at the reclaimed sequence number
	fund(t, recovered, testRecipient, 1)
	head, err := recovered.db.GetJournalSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, seq+1, head)
}

func TestJournalEventsSince(t *testing.T) {
	ls, clock := newTestLedger(t, "")
	fund(t, ls, testCreator, 5000000)
	for i := 0; i < 3; i++ {
		params := passwordGiftParams(testRecipient, clock.Now())
		params.Title = ""
		_, err := ls.CreateGift(
			context.Background(),
			string(testCreator),
			params,
		)
		require.NoError(t, err)
	}

	// Sequence 1 is the deposit, 2..4 the creations
	events, err := ls.JournalEventsSince(0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, string(DepositEventType), events[0].Type)
	for _, evt := range events[1:] {
		assert.Equal(t, string(GiftCreatedEventType), evt.Type)
		assert.NotEmpty(t, evt.Payload)
	}

	// Replay from a cursor with a page limit
	events, err = ls.JournalEventsSince(1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)
	assert.Equal(t, uint64(3), events[1].Seq)
}
