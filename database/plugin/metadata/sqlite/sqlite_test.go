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

package sqlite

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
	"gorm.io/gorm"
)

type TestTable struct {
	gorm.Model
}

func newTestStore(t *testing.T) *MetadataStoreSqlite {
	t.Helper()
	store, err := New("", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("unexpected error starting store: %s", err)
	}
	t.Cleanup(func() {
		store.Close() //nolint:errcheck
	})
	return store
}

// testPrincipal builds a distinct 64-char hex principal from a seed
func testPrincipal(seed byte) string {
	return fmt.Sprintf("%064x", seed)
}

func commitGift(
	t *testing.T,
	store *MetadataStoreSqlite,
	gift *models.Gift,
) {
	t.Helper()
	txn := store.Transaction()
	if err := store.SetGift(gift, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

// TestInMemorySqliteMultipleTransaction tests that our sqlite connection
// allows multiple concurrent transactions when using in-memory mode. This
// requires special URI flags, and this is mostly making sure that we don't
// lose them
func TestInMemorySqliteMultipleTransaction(t *testing.T) {
	store := newTestStore(t)

	if err := store.DB().AutoMigrate(&TestTable{}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result := store.DB().Create(&TestTable{}); result.Error != nil {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	doQuery := func(sleep time.Duration) error {
		txn := store.DB().Begin()
		defer txn.Rollback() //nolint:errcheck
		if result := txn.First(&TestTable{}); result.Error != nil {
			return result.Error
		}
		time.Sleep(sleep)
		if result := txn.Commit(); result.Error != nil {
			return result.Error
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- doQuery(1 * time.Second)
	}()
	time.Sleep(200 * time.Millisecond)
	if err := doQuery(0); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("goroutine error: %s", err)
	}
}

func TestGiftRoundTrip(t *testing.T) {
	store := newTestStore(t)

	gift := &models.Gift{
		Creator:             testPrincipal(0x01),
		Recipient:           testPrincipal(0x02),
		Amount:              1000000,
		FeeBps:              250,
		UnlockType:          5,
		ChallengeDigest:     []byte("0123456789abcdef0123456789abcdef"),
		Title:               "happy birthday",
		Message:             "find the password in your card",
		ExpiresAt:           2000,
		CreatedAt:           1000,
		LastAttemptDistance: -1,
	}
	commitGift(t, store, gift)
	if gift.ID == 0 {
		t.Fatal("expected gift to be assigned an ID on insert")
	}

	got, err := store.GetGift(gift.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil {
		t.Fatal("expected gift, got nil")
	}
	if got.Creator != gift.Creator ||
		got.Recipient != gift.Recipient ||
		got.Amount != gift.Amount ||
		got.FeeBps != gift.FeeBps ||
		got.Title != gift.Title ||
		got.Message != gift.Message {
		t.Fatalf("gift did not round-trip: %+v", got)
	}
	if got.LastAttemptDistance != -1 {
		t.Fatalf(
			"expected last attempt distance -1, got %d",
			got.LastAttemptDistance,
		)
	}

	// Update to claimed and verify new fields persist
	gift.Status = models.StatusClaimed
	gift.ClaimedAt = 1500
	gift.SettledFee = 25000
	gift.SettledPayout = 975000
	gift.ClaimAttempts = 1
	gift.LastAttemptDistance = 0
	commitGift(t, store, gift)

	got, err = store.GetGift(gift.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil {
		t.Fatal("expected gift, got nil")
	}
	if got.Status != models.StatusClaimed {
		t.Fatalf("expected claimed status, got %d", got.Status)
	}
	if got.SettledFee != 25000 || got.SettledPayout != 975000 {
		t.Fatalf(
			"expected settled amounts 25000/975000, got %d/%d",
			got.SettledFee,
			got.SettledPayout,
		)
	}
	if got.LastAttemptDistance != 0 {
		t.Fatalf(
			"expected last attempt distance 0, got %d",
			got.LastAttemptDistance,
		)
	}

	// Unknown ID returns nil without error
	missing, err := store.GetGift(gift.ID+1000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown gift, got %+v", missing)
	}
}

func TestGiftQueryFilters(t *testing.T) {
	store := newTestStore(t)

	creatorA := testPrincipal(0x0a)
	creatorB := testPrincipal(0x0b)
	recipX := testPrincipal(0x1a)
	recipY := testPrincipal(0x1b)
	seed := []models.Gift{
		{Creator: creatorA, Recipient: recipX, Amount: 100, Status: models.StatusActive},
		{Creator: creatorA, Recipient: recipY, Amount: 200, Status: models.StatusClaimed},
		{Creator: creatorA, Recipient: recipX, Amount: 300, Status: models.StatusActive},
		{Creator: creatorB, Recipient: recipX, Amount: 400, Status: models.StatusActive},
		{Creator: creatorB, Recipient: recipY, Amount: 500, Status: models.StatusRefunded},
	}
	for i := range seed {
		seed[i].LastAttemptDistance = -1
		commitGift(t, store, &seed[i])
	}

	gifts, total, err := store.GetGifts(
		models.GiftQuery{Creator: creatorA},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 3 || len(gifts) != 3 {
		t.Fatalf("expected 3 gifts for creator, got %d (total %d)", len(gifts), total)
	}
	// Listings are newest first
	if gifts[0].Amount != 300 || gifts[2].Amount != 100 {
		t.Fatalf("expected newest-first ordering, got %+v", gifts)
	}

	active := models.StatusActive
	gifts, total, err = store.GetGifts(
		models.GiftQuery{Creator: creatorA, Status: &active},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 2 || len(gifts) != 2 {
		t.Fatalf("expected 2 active gifts for creator, got %d (total %d)", len(gifts), total)
	}

	gifts, total, err = store.GetGifts(
		models.GiftQuery{Recipient: recipX},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 3 || len(gifts) != 3 {
		t.Fatalf("expected 3 gifts for recipient, got %d (total %d)", len(gifts), total)
	}

	// Pagination returns a page but reports the full match count
	gifts, total, err = store.GetGifts(
		models.GiftQuery{Creator: creatorA, Limit: 2},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 3 || len(gifts) != 2 {
		t.Fatalf("expected page of 2 with total 3, got %d (total %d)", len(gifts), total)
	}
	gifts, total, err = store.GetGifts(
		models.GiftQuery{Creator: creatorA, Limit: 2, Offset: 2},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 3 || len(gifts) != 1 {
		t.Fatalf("expected final page of 1 with total 3, got %d (total %d)", len(gifts), total)
	}
}

func TestGiftsExpiringBefore(t *testing.T) {
	store := newTestStore(t)

	creator := testPrincipal(0x21)
	recipient := testPrincipal(0x22)
	seed := []models.Gift{
		{Creator: creator, Recipient: recipient, ExpiresAt: 1000, Status: models.StatusActive},
		{Creator: creator, Recipient: recipient, ExpiresAt: 2000, Status: models.StatusActive, ExpiredNotice: true},
		{Creator: creator, Recipient: recipient, ExpiresAt: 3000, Status: models.StatusActive},
		{Creator: creator, Recipient: recipient, ExpiresAt: 1000, Status: models.StatusClaimed},
	}
	for i := range seed {
		seed[i].LastAttemptDistance = -1
		commitGift(t, store, &seed[i])
	}

	expiring, err := store.GetGiftsExpiringBefore(2500, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expected 1 expiring gift, got %d", len(expiring))
	}
	if expiring[0].ID != seed[0].ID {
		t.Fatalf(
			"expected gift %d, got %d",
			seed[0].ID,
			expiring[0].ID,
		)
	}
}

func TestChainAndSteps(t *testing.T) {
	store := newTestStore(t)

	chainId := "deadbeefdeadbeefdeadbeefdeadbeef"
	chain := &models.Chain{
		ID:          chainId,
		Creator:     testPrincipal(0x31),
		Recipient:   testPrincipal(0x32),
		TotalAmount: 3000,
		FeeBps:      250,
		StepCount:   3,
		Description: "scavenger hunt",
		ExpiresAt:   9000,
		CreatedAt:   1000,
	}
	txn := store.Transaction()
	if err := store.SetChain(chain, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for i := uint32(0); i < 3; i++ {
		step := &models.ChainStep{
			ChainID:             chainId,
			StepIndex:           i,
			Amount:              1000,
			UnlockType:          uint8(i),
			Message:             fmt.Sprintf("step %d", i),
			LastAttemptDistance: -1,
		}
		if err := store.SetChainStep(step, txn); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := store.GetChain(chainId, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil {
		t.Fatal("expected chain, got nil")
	}
	if got.StepCount != 3 || got.Description != "scavenger hunt" {
		t.Fatalf("chain did not round-trip: %+v", got)
	}

	steps, err := store.GetChainSteps(chainId, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, step := range steps {
		if step.StepIndex != uint32(i) { //nolint:gosec
			t.Fatalf(
				"expected steps in index order, got %d at position %d",
				step.StepIndex,
				i,
			)
		}
	}

	// Complete the middle step and verify the update persists
	step := steps[1]
	step.Completed = true
	step.CompletedAt = 2000
	step.SettledFee = 25
	step.SettledPayout = 975
	txn = store.Transaction()
	if err := store.SetChainStep(&step, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	updated, err := store.GetChainStep(chainId, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if updated == nil {
		t.Fatal("expected chain step, got nil")
	}
	if !updated.Completed || updated.SettledPayout != 975 {
		t.Fatalf("step update did not persist: %+v", updated)
	}

	// Unknown chain and step return nil without error
	missingChain, err := store.GetChain("ffffffffffffffffffffffffffffffff", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if missingChain != nil {
		t.Fatalf("expected nil for unknown chain, got %+v", missingChain)
	}
	missingStep, err := store.GetChainStep(chainId, 99, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if missingStep != nil {
		t.Fatalf("expected nil for unknown step, got %+v", missingStep)
	}
}

func TestNonceRoundTrip(t *testing.T) {
	store := newTestStore(t)

	// Unused keys report nonce 0
	val, err := store.GetNonce("g/1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != 0 {
		t.Fatalf("expected nonce 0 for unused key, got %d", val)
	}

	txn := store.Transaction()
	if err := store.SetNonce("g/1", 1, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := store.SetNonce("c/deadbeefdeadbeefdeadbeefdeadbeef/0", 5, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	val, err = store.GetNonce("g/1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != 1 {
		t.Fatalf("expected nonce 1, got %d", val)
	}

	// Upsert moves the value forward
	txn = store.Transaction()
	if err := store.SetNonce("g/1", 2, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	val, err = store.GetNonce("g/1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != 2 {
		t.Fatalf("expected nonce 2, got %d", val)
	}
}

func TestAttempts(t *testing.T) {
	store := newTestStore(t)

	recipient := testPrincipal(0x41)
	txn := store.Transaction()
	first := &models.Attempt{
		TargetKey: "g/7",
		Recipient: recipient,
		Outcome:   models.AttemptOutcomeFailure,
		Distance:  950,
		CreatedAt: 1000,
	}
	if err := store.AddAttempt(first, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	second := &models.Attempt{
		TargetKey: "g/7",
		Recipient: recipient,
		Outcome:   models.AttemptOutcomeSuccess,
		Distance:  -1,
		Relayed:   true,
		CreatedAt: 1010,
	}
	if err := store.AddAttempt(second, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	other := &models.Attempt{
		TargetKey: "g/8",
		Recipient: recipient,
		Outcome:   models.AttemptOutcomeFailure,
		Distance:  -1,
		CreatedAt: 1020,
	}
	if err := store.AddAttempt(other, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	attempts, err := store.GetAttempts("g/7", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Outcome != models.AttemptOutcomeFailure ||
		attempts[1].Outcome != models.AttemptOutcomeSuccess {
		t.Fatalf("expected attempts in insertion order, got %+v", attempts)
	}
	if attempts[0].Distance != 950 {
		t.Fatalf("expected recorded distance 950, got %d", attempts[0].Distance)
	}
	if !attempts[1].Relayed {
		t.Fatal("expected second attempt to be marked relayed")
	}
}

func TestAccounts(t *testing.T) {
	store := newTestStore(t)

	principalA := testPrincipal(0x51)
	principalB := testPrincipal(0x52)

	missing, err := store.GetAccount(principalA, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown account, got %+v", missing)
	}

	txn := store.Transaction()
	if err := store.SetAccount(
		&models.Account{Principal: principalB, Balance: 500},
		txn,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := store.SetAccount(
		&models.Account{Principal: principalA, Balance: 100},
		txn,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := store.GetAccount(principalA, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil || got.Balance != 100 {
		t.Fatalf("expected balance 100, got %+v", got)
	}

	// Upsert replaces the balance
	txn = store.Transaction()
	if err := store.SetAccount(
		&models.Account{Principal: principalA, Balance: 975100},
		txn,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	got, err = store.GetAccount(principalA, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil || got.Balance != 975100 {
		t.Fatalf("expected balance 975100, got %+v", got)
	}

	accounts, err := store.GetAccounts(nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Principal != principalA {
		t.Fatalf("expected accounts ordered by principal, got %+v", accounts)
	}
}

func TestParams(t *testing.T) {
	store := newTestStore(t)

	val, err := store.GetParam(models.ParamFeeBps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != "" {
		t.Fatalf("expected empty value for unset param, got %q", val)
	}

	txn := store.Transaction()
	if err := store.SetParam(models.ParamFeeBps, "250", txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	val, err = store.GetParam(models.ParamFeeBps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != "250" {
		t.Fatalf("expected param value 250, got %q", val)
	}

	txn = store.Transaction()
	if err := store.SetParam(models.ParamFeeBps, "300", txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	val, err = store.GetParam(models.ParamFeeBps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if val != "300" {
		t.Fatalf("expected param value 300, got %q", val)
	}
}

func TestMetadataCommitTimestamp(t *testing.T) {
	store := newTestStore(t)

	ts, err := store.GetCommitTimestamp()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ts != 0 {
		t.Fatalf("expected commit timestamp 0 on fresh store, got %d", ts)
	}

	txn := store.Transaction()
	if err := store.SetCommitTimestamp(1756100000000, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	ts, err = store.GetCommitTimestamp()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ts != 1756100000000 {
		t.Fatalf("expected commit timestamp 1756100000000, got %d", ts)
	}
}

func TestTxnRollback(t *testing.T) {
	store := newTestStore(t)

	gift := &models.Gift{
		Creator:             testPrincipal(0x61),
		Recipient:           testPrincipal(0x62),
		Amount:              100,
		LastAttemptDistance: -1,
	}
	txn := store.Transaction()
	if err := store.SetGift(gift, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := store.GetGift(gift.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got != nil {
		t.Fatalf("expected rolled-back gift to be absent, got %+v", got)
	}
}

type bogusTxn struct{}

func (bogusTxn) Commit() error   { return nil }
func (bogusTxn) Rollback() error { return nil }

func TestTxnGuards(t *testing.T) {
	store := newTestStore(t)

	gift := &models.Gift{
		Creator:             testPrincipal(0x71),
		Recipient:           testPrincipal(0x72),
		Amount:              100,
		LastAttemptDistance: -1,
	}

	// Writes require a transaction
	if err := store.SetGift(gift, nil); !errors.Is(err, types.ErrNilTxn) {
		t.Fatalf("expected nil txn error, got %s", err)
	}

	// Wrong transaction type is rejected
	if err := store.SetGift(gift, bogusTxn{}); !errors.Is(err, types.ErrTxnWrongType) {
		t.Fatalf("expected wrong type error, got %s", err)
	}

	// Finished transactions are rejected for further writes
	txn := store.Transaction()
	if err := store.SetGift(gift, txn); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("expected repeated commit to be a no-op, got %s", err)
	}
	if err := store.SetGift(gift, txn); !errors.Is(err, types.ErrTxnFinished) {
		t.Fatalf("expected finished txn error, got %s", err)
	}

	// Transactions from a different store are rejected
	other, err := New("", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer other.Close() //nolint:errcheck
	otherTxn := other.Transaction()
	defer otherTxn.Rollback() //nolint:errcheck
	if err := store.SetGift(gift, otherTxn); err == nil {
		t.Fatal("expected error for transaction from different store")
	}
}
