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

package database

import (
	"errors"
	"strconv"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
)

// JournalRecord is one stored journal entry with its sequence number
type JournalRecord struct {
	Entry []byte
	Seq   uint64
}

// GetJournalSeq returns the sequence number of the most recent journal
// entry, or 0 when the journal is empty
func (d *Database) GetJournalSeq(txn *Txn) (uint64, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	val, err := d.metadata.GetParam(models.ParamJournalSeq, txn.Metadata())
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	return strconv.ParseUint(val, 10, 64)
}

// AddJournalEntry appends an entry to the journal and returns its sequence
// number. Callers pass the transaction carrying the state change the entry
// describes so the two commit together.
func (d *Database) AddJournalEntry(entry []byte, txn *Txn) (uint64, error) {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	seq, err := d.GetJournalSeq(txn)
	if err != nil {
		return 0, err
	}
	next := seq + 1
	if err := d.metadata.SetParam(
		models.ParamJournalSeq,
		strconv.FormatUint(next, 10),
		txn.Metadata(),
	); err != nil {
		return 0, err
	}
	if err := d.blob.Set(
		txn.Blob(),
		types.JournalBlobKey(next),
		entry,
	); err != nil {
		return 0, err
	}
	if owned {
		if err := txn.Commit(); err != nil {
			return 0, err
		}
	}
	return next, nil
}

// DeleteJournalEntry removes a journal entry from the blob store. Only used
// to discard orphaned entries during recovery; the journal is otherwise
// append-only.
func (d *Database) DeleteJournalEntry(seq uint64, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	if err := d.blob.Delete(
		txn.Blob(),
		types.JournalBlobKey(seq),
	); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

// GetJournalEntry returns a single journal entry by sequence number, or nil
// when no such entry exists
func (d *Database) GetJournalEntry(seq uint64, txn *Txn) ([]byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	entry, err := d.blob.Get(txn.Blob(), types.JournalBlobKey(seq))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// GetJournalEntries returns journal entries in sequence order starting at
// fromSeq. A maxCount of 0 means no limit.
func (d *Database) GetJournalEntries(
	fromSeq uint64,
	maxCount int,
	txn *Txn,
) ([]JournalRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	ret := []JournalRecord{}
	prefix := []byte(types.JournalBlobKeyPrefix)
	iter := d.blob.NewIterator(
		txn.Blob(),
		types.BlobIteratorOptions{Prefix: prefix},
	)
	defer iter.Close()
	for iter.Seek(types.JournalBlobKey(fromSeq)); iter.ValidForPrefix(prefix); iter.Next() {
		if maxCount > 0 && len(ret) >= maxCount {
			break
		}
		item := iter.Item()
		seq, err := types.JournalSeqFromKey(item.Key())
		if err != nil {
			return nil, err
		}
		entry, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ret = append(ret, JournalRecord{Seq: seq, Entry: entry})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
