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

// Package cachet assembles the escrow node: the ledger state machine, the
// envelope-authenticated HTTP API, and the optional journal archiver,
// wired together behind one Config.
package cachet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cachet-io/cachet/api"
	"github.com/cachet-io/cachet/archive"
	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/event"
	"github.com/cachet-io/cachet/ledger"
)

type Node struct {
	config        Config
	eventBus      *event.EventBus
	ledgerState   *ledger.LedgerState
	api           *api.Api
	archiver      *archive.Archiver
	shutdownFuncs []func(context.Context) error
	runCancel     context.CancelFunc
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Run starts the node and blocks until Stop is called. The given context
// bounds all background work; cancelling it begins a shutdown.
func (n *Node) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	n.runCancel = runCancel
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load ledger state
	state, err := ledger.NewLedgerState(
		ledger.LedgerStateConfig{
			Logger:   n.config.logger,
			DataDir:  n.config.dataDir,
			EventBus: n.eventBus,
			Capabilities: auth.NewCapabilities(
				n.config.operators,
				n.config.emergencyOperators,
				n.config.verifiers,
			),
			PromRegistry:        n.config.promRegistry,
			AttestationWindow:   n.config.attestationWindow,
			ExpirySweepInterval: n.config.expirySweepInterval,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to load ledger state: %w", err)
	}
	n.ledgerState = state
	// Start API server
	n.api = api.New(
		api.ApiConfig{
			ListenAddress:  n.config.apiListenAddress,
			ReuseAddress:   n.config.reuseAddress,
			EnvelopeWindow: n.config.envelopeWindow,
		},
		n.ledgerState,
		n.config.logger,
	)
	if err := n.api.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	// Start journal archiver
	if n.config.archiveBucket != "" {
		archiver, err := archive.New(
			archive.ArchiverConfig{
				BucketName:      n.config.archiveBucket,
				CredentialsFile: n.config.archiveCredentialsFile,
				ObjectPrefix:    n.config.archiveObjectPrefix,
				Interval:        n.config.archiveInterval,
				Ledger:          n.ledgerState,
				PromRegistry:    n.config.promRegistry,
			},
			n.config.logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create journal archiver: %w", err)
		}
		n.archiver = archiver
		if err := n.archiver.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start journal archiver: %w", err)
		}
	}

	// Wait for shutdown signal
	<-n.done
	return nil
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Stop background services
	n.config.logger.Debug("shutdown phase 2: stopping background services")

	if n.archiver != nil {
		if stopErr := n.archiver.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("archiver shutdown: %w", stopErr),
			)
		}
	}
	if n.runCancel != nil {
		n.runCancel()
	}

	// Phase 3: Flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.ledgerState != nil {
		if closeErr := n.ledgerState.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("ledger state close: %w", closeErr),
			)
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
