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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/event"
	"github.com/cachet-io/cachet/unlock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultFeeBps is the settlement fee applied until an operator sets one
	DefaultFeeBps = 250
	// MaxFeeBps caps the settlement fee at 10%
	MaxFeeBps = 1000
	// feeDivisor converts basis points to a fraction
	feeDivisor = 10000

	// Expiry window bounds relative to creation time
	MinExpiryWindow = time.Hour
	MaxExpiryWindow = 365 * 24 * time.Hour

	// Chain step count bounds
	MinChainSteps = 2
	MaxChainSteps = 10

	// Metadata size caps in bytes
	MaxTitleBytes   = 200
	MaxMessageBytes = 1000
	MaxClueBytes    = 500

	// MaxRewardContentBytes caps the stored reward content per step
	MaxRewardContentBytes = 64 * 1024

	defaultExpirySweepInterval = time.Minute
)

type LedgerStateConfig struct {
	Logger       *slog.Logger
	DataDir      string
	EventBus     *event.EventBus
	Capabilities *auth.Capabilities
	PromRegistry prometheus.Registerer
	// AttestationWindow bounds how old a location attestation may be.
	// Zero selects the default.
	AttestationWindow time.Duration
	// ExpirySweepInterval is how often past-due escrows are flagged.
	// Zero selects the default.
	ExpirySweepInterval time.Duration
}

type LedgerState struct {
	sync.RWMutex
	config           LedgerStateConfig
	db               *database.Database
	verifier         *unlock.Verifier
	metrics          ledgerMetrics
	timerExpirySweep *time.Timer
	ownEventBus      bool
	closed           bool
	now              func() time.Time
}

func NewLedgerState(cfg LedgerStateConfig) (*LedgerState, error) {
	ls := &LedgerState{
		config: cfg,
		now:    time.Now,
	}
	if ls.config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		ls.config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if ls.config.EventBus == nil {
		ls.config.EventBus = event.NewEventBus(nil, ls.config.Logger)
		ls.ownEventBus = true
	}
	if ls.config.ExpirySweepInterval <= 0 {
		ls.config.ExpirySweepInterval = defaultExpirySweepInterval
	}
	ls.verifier = unlock.NewVerifier(
		ls.config.Capabilities,
		ls.config.AttestationWindow,
	)
	// Init metrics
	ls.metrics.init(ls.config.PromRegistry)
	// Load database
	needsRecovery := false
	db, err := database.New(
		ls.config.Logger,
		ls.config.DataDir,
		ls.config.PromRegistry,
	)
	if db == nil {
		ls.config.Logger.Error(
			"failed to create database",
			"error",
			"empty database returned",
			"component",
			"ledger",
		)
		return nil, errors.New("empty database returned")
	}
	ls.db = db
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			return nil, err
		}
		ls.config.Logger.Warn(
			"database initialization error, needs recovery",
			"error",
			err,
			"component",
			"ledger",
		)
		needsRecovery = true
	}
	// Run recovery if needed
	if needsRecovery {
		if err := ls.recoverCommitTimestampConflict(); err != nil {
			return nil, fmt.Errorf("failed to recover database: %w", err)
		}
	}
	// Seed params and check escrow conservation
	if err := ls.initParams(); err != nil {
		return nil, err
	}
	// Schedule periodic process to flag past-due escrows
	ls.scheduleExpirySweep()
	ls.metrics.startTime.Set(float64(ls.now().Unix()))
	return ls, nil
}

// recoverCommitTimestampConflict reconciles the blob store with the metadata
// store after an interrupted commit. Journal entries commit to the blob
// store first, so a crash between the two commits leaves entries past the
// metadata store's journal sequence. Those entries belong to a state change
// that never landed and are discarded.
func (ls *LedgerState) recoverCommitTimestampConflict() error {
	seq, err := ls.db.GetJournalSeq(nil)
	if err != nil {
		return err
	}
	txn := ls.db.Transaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		orphans, err := ls.db.GetJournalEntries(seq+1, 0, txn)
		if err != nil {
			return err
		}
		for _, orphan := range orphans {
			if err := ls.db.DeleteJournalEntry(orphan.Seq, txn); err != nil {
				return err
			}
		}
		if len(orphans) > 0 {
			ls.config.Logger.Info(
				fmt.Sprintf(
					"discarded %d orphaned journal entries past sequence %d",
					len(orphans),
					seq,
				),
				"component",
				"ledger",
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Committing above wrote a matching commit timestamp into both stores
	return ls.db.CheckCommitTimestamp()
}

// initParams seeds missing ledger params and verifies that the recorded
// locked value matches what the escrow rows add up to. A mismatch means the
// stores disagree about custodied value and the ledger refuses to start.
func (ls *LedgerState) initParams() error {
	txn := ls.db.Transaction(true)
	return txn.Do(func(txn *database.Txn) error {
		feeBps, err := ls.db.GetParam(models.ParamFeeBps, txn)
		if err != nil {
			return err
		}
		if feeBps == "" {
			err = ls.db.SetParam(
				models.ParamFeeBps,
				strconv.Itoa(DefaultFeeBps),
				txn,
			)
			if err != nil {
				return err
			}
		}
		derived, err := ls.deriveValueLocked(txn)
		if err != nil {
			return err
		}
		stored, err := ls.db.GetParam(models.ParamValueLocked, txn)
		if err != nil {
			return err
		}
		if stored == "" {
			err = ls.db.SetParam(
				models.ParamValueLocked,
				strconv.FormatUint(derived, 10),
				txn,
			)
			if err != nil {
				return err
			}
		} else {
			parsed, err := strconv.ParseUint(stored, 10, 64)
			if err != nil {
				return fmt.Errorf("parse locked value param: %w", err)
			}
			if parsed != derived {
				return fmt.Errorf(
					"locked value mismatch: %d (recorded) != %d (derived)",
					parsed,
					derived,
				)
			}
		}
		seq, err := ls.db.GetJournalSeq(txn)
		if err != nil {
			return err
		}
		ls.metrics.valueLocked.Set(float64(derived))
		ls.metrics.journalSeq.Set(float64(seq))
		return nil
	})
}

// deriveValueLocked recomputes custodied value from escrow rows: active gift
// amounts plus uncompleted step amounts of active chains
func (ls *LedgerState) deriveValueLocked(
	txn *database.Txn,
) (uint64, error) {
	var total uint64
	activeStatus := models.StatusActive
	gifts, _, err := ls.db.GetGifts(
		models.GiftQuery{Status: &activeStatus},
		txn,
	)
	if err != nil {
		return 0, err
	}
	for _, gift := range gifts {
		total += uint64(gift.Amount)
	}
	chains, _, err := ls.db.GetChains(
		models.ChainQuery{Status: &activeStatus},
		txn,
	)
	if err != nil {
		return 0, err
	}
	for _, tmpChain := range chains {
		steps, err := ls.db.GetChainSteps(tmpChain.ID, txn)
		if err != nil {
			return 0, err
		}
		for _, step := range steps {
			if !step.Completed {
				total += uint64(step.Amount)
			}
		}
	}
	return total, nil
}

func (ls *LedgerState) Close() error {
	ls.Lock()
	if ls.closed {
		ls.Unlock()
		return nil
	}
	ls.closed = true
	if ls.timerExpirySweep != nil {
		ls.timerExpirySweep.Stop()
	}
	ls.Unlock()
	if ls.ownEventBus {
		ls.config.EventBus.Stop()
	}
	return ls.db.Close()
}

// pendingEvent is an event recorded inside a transaction and published only
// after the transaction commits
type pendingEvent struct {
	Type    event.EventType
	Payload any
}

// appendJournal writes one journal entry inside the transaction that carries
// the matching state change
func (ls *LedgerState) appendJournal(
	txn *database.Txn,
	eventType event.EventType,
	timestamp int64,
	payload any,
) error {
	entry := journalEntry{
		Type:      string(eventType),
		Timestamp: timestamp,
		Payload:   payload,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	seq, err := ls.db.AddJournalEntry(data, txn)
	if err != nil {
		return err
	}
	ls.metrics.journalSeq.Set(float64(seq))
	return nil
}

// publishEvents delivers events recorded during a committed transaction
func (ls *LedgerState) publishEvents(events []pendingEvent) {
	for _, evt := range events {
		ls.config.EventBus.Publish(
			evt.Type,
			event.NewEvent(evt.Type, evt.Payload),
		)
	}
}

// checkPrincipal parses and normalizes a caller-supplied principal
func checkPrincipal(s string) (auth.Principal, error) {
	p, err := auth.ParsePrincipal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return p, nil
}
