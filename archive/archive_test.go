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

package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cachet-io/cachet/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The archiver reads the journal through the same queries the API serves
var _ JournalSource = (*ledger.LedgerState)(nil)

type stubJournalSource struct{}

func (s stubJournalSource) JournalSeq() (uint64, error) { return 0, nil }

func (s stubJournalSource) JournalEventsSince(
	afterSeq uint64,
	maxCount int,
) ([]ledger.JournalEvent, error) {
	return nil, nil
}

func TestNewValidation(t *testing.T) {
	_, err := New(ArchiverConfig{Ledger: stubJournalSource{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive bucket configured")

	_, err = New(ArchiverConfig{BucketName: "cachet-journal"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal source configured")
}

func TestNewCredentialsValidation(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := New(
		ArchiverConfig{
			BucketName:      "cachet-journal",
			Ledger:          stubJournalSource{},
			CredentialsFile: filepath.Join(tmpDir, "missing.json"),
		},
		nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GCS credentials file does not exist")

	credsPath := filepath.Join(tmpDir, "credentials.json")
	require.NoError(t, os.WriteFile(credsPath, []byte("{}"), 0o600))
	_, err = New(
		ArchiverConfig{
			BucketName:      "cachet-journal",
			Ledger:          stubJournalSource{},
			CredentialsFile: credsPath,
		},
		nil,
	)
	require.NoError(t, err)
}

func TestNewDefaults(t *testing.T) {
	a, err := New(
		ArchiverConfig{
			BucketName: "cachet-journal",
			Ledger:     stubJournalSource{},
		},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, DefaultObjectPrefix, a.config.ObjectPrefix)
	assert.Equal(t, DefaultInterval, a.config.Interval)
	assert.Equal(t, DefaultBatchSize, a.config.BatchSize)
}

func TestStopBeforeStart(t *testing.T) {
	a, err := New(
		ArchiverConfig{
			BucketName: "cachet-journal",
			Ledger:     stubJournalSource{},
		},
		nil,
	)
	require.NoError(t, err)

	err = a.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestSegmentName(t *testing.T) {
	assert.Equal(
		t,
		"journal/1-100.json",
		segmentName("journal/", 1, 100),
	)
	assert.Equal(
		t,
		"backup/journal/4321-4321.json",
		segmentName("backup/journal/", 4321, 4321),
	)
}

func TestMarkerRoundTrip(t *testing.T) {
	seq, err := parseMarker(formatMarker(12345))
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), seq)

	seq, err = parseMarker([]byte(" 42\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	_, err = parseMarker([]byte("not-a-number"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed archive marker")
}

func TestEncodeSegment(t *testing.T) {
	events := []ledger.JournalEvent{
		{
			Seq:       1,
			Type:      "ledger.deposit",
			Timestamp: time.Now().Unix(),
			Payload:   json.RawMessage(`{"amount":1000000}`),
		},
		{
			Seq:       2,
			Type:      "gift.created",
			Timestamp: time.Now().Unix(),
			Payload:   json.RawMessage(`{"gift_id":1}`),
		},
	}

	data, err := encodeSegment(events)
	require.NoError(t, err)

	var decoded []ledger.JournalEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, events, decoded)
}
