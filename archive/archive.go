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

// Package archive copies the ledger journal into a Google Cloud Storage
// bucket. Entries are batched into JSON segment objects named
// <prefix><firstSeq>-<lastSeq>.json; a marker object records the highest
// archived sequence so restarts resume where the previous run stopped. The
// journal itself stays authoritative, segments are an off-site copy.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cachet-io/cachet/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"
)

const (
	// DefaultObjectPrefix is prepended to every segment and marker object.
	DefaultObjectPrefix = "journal/"
	// DefaultInterval is the pause between archive passes.
	DefaultInterval = 5 * time.Minute
	// DefaultBatchSize is the maximum number of journal entries per
	// segment object.
	DefaultBatchSize = 1000

	// markerObjectSuffix names the object holding the highest archived
	// sequence, relative to the object prefix.
	markerObjectSuffix = "last-archived"
)

// JournalSource provides journal entries for archival. Implemented by
// ledger.LedgerState.
type JournalSource interface {
	JournalSeq() (uint64, error)
	JournalEventsSince(afterSeq uint64, maxCount int) ([]ledger.JournalEvent, error)
}

// ArchiverConfig holds the journal archiver settings.
type ArchiverConfig struct {
	// BucketName is the GCS bucket segments are written to.
	BucketName string
	// CredentialsFile optionally points at a service account key; the
	// default credential chain is used when empty.
	CredentialsFile string
	ObjectPrefix    string
	Interval        time.Duration
	BatchSize       int
	Ledger          JournalSource
	PromRegistry    prometheus.Registerer
}

// Archiver periodically uploads journal segments to the configured bucket.
type Archiver struct {
	config  ArchiverConfig
	logger  *slog.Logger
	metrics archiverMetrics
	client  *storage.Client
	bucket  *storage.BucketHandle

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new journal archiver.
func New(
	cfg ArchiverConfig,
	logger *slog.Logger,
) (*Archiver, error) {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "archive")
	if cfg.BucketName == "" {
		return nil, errors.New("no archive bucket configured")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("no journal source configured")
	}
	if cfg.CredentialsFile != "" {
		if err := validateCredentials(cfg.CredentialsFile); err != nil {
			return nil, err
		}
	}
	if cfg.ObjectPrefix == "" {
		cfg.ObjectPrefix = DefaultObjectPrefix
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	a := &Archiver{
		config: cfg,
		logger: logger,
	}
	a.metrics.init(cfg.PromRegistry)
	return a, nil
}

// validateCredentials checks that a configured credentials file exists
// before the storage client needs it.
func validateCredentials(credentialsFile string) error {
	if _, err := os.Stat(credentialsFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf(
				"GCS credentials file does not exist: %s",
				credentialsFile,
			)
		}
		return fmt.Errorf("failed to stat GCS credentials file: %w", err)
	}
	return nil
}

// Start connects to the bucket and launches the archive loop. The loop
// stops when the given context is cancelled or Stop is called.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("archiver already started")
	}

	clientCtx, clientCancel := context.WithTimeout(ctx, 30*time.Second)
	defer clientCancel()

	clientOpts := []option.ClientOption{
		storage.WithDisabledClientMetrics(),
	}
	if a.config.CredentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(a.config.CredentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(
		clientCtx,
		clientOpts...,
	)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	a.client = client
	a.bucket = client.Bucket(a.config.BucketName)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(runCtx)

	a.logger.Info(
		"journal archiver started",
		"bucket", a.config.BucketName,
		"interval", a.config.Interval.String(),
	)
	return nil
}

// Stop halts the archive loop and releases the storage client.
func (a *Archiver) Stop() error {
	a.mu.Lock()
	if a.cancel == nil {
		a.mu.Unlock()
		return errors.New("archiver not started")
	}
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		err := a.client.Close()
		a.client = nil
		a.bucket = nil
		return err
	}
	return nil
}

func (a *Archiver) run(ctx context.Context) {
	defer a.wg.Done()

	// First pass right away so short-lived nodes still archive
	a.archivePass(ctx)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.archivePass(ctx)
		}
	}
}

func (a *Archiver) archivePass(ctx context.Context) {
	if err := a.archiveOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.metrics.errorsTotal.Inc()
		a.logger.Error("journal archive pass failed", "error", err)
	}
}

// archiveOnce uploads every journal entry past the stored marker, one
// segment per batch, advancing the marker after each upload.
func (a *Archiver) archiveOnce(ctx context.Context) error {
	lastArchived, err := a.readMarker(ctx)
	if err != nil {
		return fmt.Errorf("failed to read archive marker: %w", err)
	}
	journalSeq, err := a.config.Ledger.JournalSeq()
	if err != nil {
		return fmt.Errorf("failed to read journal sequence: %w", err)
	}
	if journalSeq <= lastArchived {
		return nil
	}

	for {
		events, err := a.config.Ledger.JournalEventsSince(
			lastArchived,
			a.config.BatchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to read journal entries: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		firstSeq := events[0].Seq
		lastSeq := events[len(events)-1].Seq
		data, err := encodeSegment(events)
		if err != nil {
			return err
		}
		name := segmentName(a.config.ObjectPrefix, firstSeq, lastSeq)
		if err := a.uploadObject(ctx, name, data); err != nil {
			return fmt.Errorf("failed to upload segment %q: %w", name, err)
		}
		if err := a.writeMarker(ctx, lastSeq); err != nil {
			return fmt.Errorf("failed to update archive marker: %w", err)
		}
		a.metrics.segmentsTotal.Inc()
		a.metrics.entriesTotal.Add(float64(len(events)))
		a.metrics.lastSequence.Set(float64(lastSeq))
		a.logger.Info(
			"archived journal segment",
			"object", name,
			"first_seq", firstSeq,
			"last_seq", lastSeq,
			"entries", len(events),
		)
		lastArchived = lastSeq
		if len(events) < a.config.BatchSize {
			return nil
		}
	}
}

// segmentName builds the object name for a segment covering the given
// sequence range.
func segmentName(prefix string, firstSeq, lastSeq uint64) string {
	return fmt.Sprintf("%s%d-%d.json", prefix, firstSeq, lastSeq)
}

// encodeSegment renders journal entries as a JSON array.
func encodeSegment(events []ledger.JournalEvent) ([]byte, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal segment: %w", err)
	}
	return data, nil
}

// readMarker returns the highest archived sequence, or zero when no marker
// object exists yet.
func (a *Archiver) readMarker(ctx context.Context) (uint64, error) {
	name := a.config.ObjectPrefix + markerObjectSuffix
	r, err := a.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer r.Close()

	// Markers are a short decimal string
	data, err := io.ReadAll(io.LimitReader(r, 64))
	if err != nil {
		return 0, err
	}
	return parseMarker(data)
}

func (a *Archiver) writeMarker(ctx context.Context, seq uint64) error {
	name := a.config.ObjectPrefix + markerObjectSuffix
	return a.uploadObject(ctx, name, formatMarker(seq))
}

func parseMarker(data []byte) (uint64, error) {
	seq, err := strconv.ParseUint(
		strings.TrimSpace(string(data)),
		10,
		64,
	)
	if err != nil {
		return 0, fmt.Errorf("malformed archive marker: %w", err)
	}
	return seq, nil
}

func formatMarker(seq uint64) []byte {
	return []byte(strconv.FormatUint(seq, 10))
}

func (a *Archiver) uploadObject(
	ctx context.Context,
	name string,
	data []byte,
) error {
	w := a.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
