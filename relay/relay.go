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

// Package relay runs the claim relay: an off-ledger HTTP service that
// prepares claim mandates for recipients, then submits their signed claims
// to the node under the relay's own envelope so recipients never talk to
// the node directly. The relay holds no recipient secrets; a mandate binds
// the target, the recipient, the exact proof, and the target's current
// nonce, so the ledger rejects every reuse.
package relay

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// Relay is the claim relay HTTP service.
type Relay struct {
	config     RelayConfig
	logger     *slog.Logger
	client     *NodeClient
	principal  auth.Principal
	pending    *pendingSet
	metrics    relayMetrics
	httpServer *http.Server
	mu         sync.Mutex
}

// RelayConfig holds the relay service settings.
type RelayConfig struct {
	ListenAddress string
	// NodeURL is the base URL of the node API the relay submits to
	NodeURL string
	// Key signs the relay's own request envelopes toward the node
	Key ed25519.PrivateKey
	// NodeTimeout bounds each round trip to the node; zero selects the
	// client default
	NodeTimeout  time.Duration
	PromRegistry prometheus.Registerer
}

// New creates a new relay service instance.
func New(
	cfg RelayConfig,
	logger *slog.Logger,
) (*Relay, error) {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "relay")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3001"
	}
	if cfg.NodeURL == "" {
		return nil, errors.New("no node URL configured")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, errors.New("no relay signing key configured")
	}
	pub, ok := cfg.Key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("unexpected relay key type")
	}
	r := &Relay{
		config:    cfg,
		logger:    logger,
		principal: auth.NewPrincipal(pub),
		pending:   newPendingSet(),
		client: NewNodeClient(
			cfg.NodeURL,
			cfg.Key,
			WithTimeout(cfg.NodeTimeout),
		),
	}
	r.metrics.init(cfg.PromRegistry, func() float64 {
		return float64(r.pending.Size())
	})
	return r, nil
}

// Principal returns the relay's own signing identity.
func (rl *Relay) Principal() auth.Principal {
	return rl.principal
}

// Start starts the HTTP server in a background goroutine.
func (rl *Relay) Start(ctx context.Context) error {
	rl.mu.Lock()
	if rl.httpServer != nil {
		rl.mu.Unlock()
		return errors.New("server already started")
	}

	mux := http.NewServeMux()
	rl.registerRoutes(mux)

	server := &http.Server{
		Addr:              rl.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
	}
	rl.httpServer = server
	rl.mu.Unlock()

	// Start the server with deterministic error detection
	if err := rl.startServer(ctx, server); err != nil {
		rl.mu.Lock()
		rl.httpServer = nil
		rl.mu.Unlock()
		return err
	}

	rl.logger.Info(
		"relay listener started on " + rl.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		rl.mu.Lock()
		srv := rl.httpServer
		rl.httpServer = nil
		rl.mu.Unlock()

		if srv != nil {
			rl.logger.Debug(
				"context cancelled, shutting down relay server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rl.logger.Error(
					"failed to shutdown relay server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (rl *Relay) Stop(ctx context.Context) error {
	rl.mu.Lock()
	srv := rl.httpServer
	rl.httpServer = nil
	rl.mu.Unlock()

	if srv != nil {
		rl.logger.Debug("shutting down relay server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown relay server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine.
func (rl *Relay) startServer(
	ctx context.Context,
	server *http.Server,
) error {
	listenConfig := net.ListenConfig{}
	ln, err := listenConfig.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for relay server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			rl.logger.Error(
				"relay server error",
				"error", err,
			)
		}
	}()
	return nil
}

func (rl *Relay) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", rl.handleHealth)
	mux.HandleFunc("POST /create-claim-hash", rl.handleCreateClaimHash)
	mux.HandleFunc("GET /nonce/{giftId}", rl.handleGiftNonce)
	mux.HandleFunc(
		"GET /chain-nonce/{chainId}/{stepIndex}",
		rl.handleStepNonce,
	)
	mux.HandleFunc("POST /relay-claim", rl.handleRelayClaim)
	mux.HandleFunc("POST /relay-claim-step", rl.handleRelayClaimStep)
}
