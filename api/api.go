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

// Package api serves the node's REST surface: escrow operations, listings,
// the journal replay feed, and operator parameter updates. Mutating
// endpoints authenticate through signed request envelopes; reads are open.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cachet-io/cachet/auth"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Api is the node REST API server.
type Api struct {
	config     ApiConfig
	logger     *slog.Logger
	ledger     Ledger
	replay     *auth.ReplayCache
	httpServer *http.Server
	mu         sync.Mutex
}

// ApiConfig holds the API server settings.
type ApiConfig struct {
	ListenAddress string
	// ReuseAddress sets SO_REUSEADDR/SO_REUSEPORT on the listening
	// socket so restarts don't wait out TIME_WAIT
	ReuseAddress bool
	// EnvelopeWindow bounds request envelope freshness in both
	// directions; zero selects the default window
	EnvelopeWindow time.Duration
}

// New creates a new API server instance.
func New(
	cfg ApiConfig,
	ledger Ledger,
	logger *slog.Logger,
) *Api {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3000"
	}
	if cfg.EnvelopeWindow <= 0 {
		cfg.EnvelopeWindow = auth.DefaultEnvelopeWindow
	}
	return &Api{
		config: cfg,
		logger: logger,
		ledger: ledger,
		replay: auth.NewReplayCache(2 * cfg.EnvelopeWindow),
	}
}

// Start starts the HTTP server in a background goroutine.
func (a *Api) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}

	mux := http.NewServeMux()
	a.registerRoutes(mux)

	server := &http.Server{
		Addr: a.config.ListenAddress,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	// Start the server with deterministic error detection
	if err := a.startServer(ctx, server); err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return err
	}

	a.logger.Info(
		"API listener started on " + a.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		srv := a.httpServer
		a.httpServer = nil
		a.mu.Unlock()

		if srv != nil {
			a.logger.Debug(
				"context cancelled, shutting down API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (a *Api) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	if srv != nil {
		a.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown API server: %w",
				err,
			)
		}
	}
	return nil
}

func (a *Api) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("POST /gifts", a.handleCreateGift)
	mux.HandleFunc("GET /gifts", a.handleListGifts)
	mux.HandleFunc("GET /gifts/{id}", a.handleGetGift)
	mux.HandleFunc("POST /gifts/{id}/claim", a.handleClaimGift)
	mux.HandleFunc("POST /gifts/{id}/relay-claim", a.handleRelayClaimGift)
	mux.HandleFunc("POST /gifts/{id}/refund", a.handleRefundGift)
	mux.HandleFunc("POST /gifts/{id}/recover", a.handleRecoverGift)
	mux.HandleFunc("GET /gifts/{id}/nonce", a.handleGiftNonce)
	mux.HandleFunc("GET /gifts/{id}/attempts", a.handleGiftAttempts)

	mux.HandleFunc("POST /chains", a.handleCreateChain)
	mux.HandleFunc("GET /chains", a.handleListChains)
	mux.HandleFunc("GET /chains/{id}", a.handleGetChain)
	mux.HandleFunc(
		"POST /chains/{id}/steps/{index}/claim",
		a.handleClaimStep,
	)
	mux.HandleFunc(
		"POST /chains/{id}/steps/{index}/relay-claim",
		a.handleRelayClaimStep,
	)
	mux.HandleFunc(
		"GET /chains/{id}/steps/{index}/nonce",
		a.handleStepNonce,
	)
	mux.HandleFunc(
		"GET /chains/{id}/steps/{index}/reward",
		a.handleStepReward,
	)
	mux.HandleFunc("POST /chains/{id}/refund", a.handleRefundChain)
	mux.HandleFunc("POST /chains/{id}/recover", a.handleRecoverChain)
	mux.HandleFunc("GET /chains/{id}/attempts", a.handleChainAttempts)

	mux.HandleFunc("GET /accounts/{principal}", a.handleGetAccount)
	mux.HandleFunc("POST /accounts/{principal}/deposit", a.handleDeposit)
	mux.HandleFunc("GET /params", a.handleGetParams)
	mux.HandleFunc("POST /params/fee", a.handleSetFee)
	mux.HandleFunc("POST /params/fee-recipient", a.handleSetFeeRecipient)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /events", a.handleEvents)
}

// startServer starts the HTTP server with deterministic error detection.
// It binds the listening socket first so port conflicts are detected
// immediately, then serves in a background goroutine.
func (a *Api) startServer(
	ctx context.Context,
	server *http.Server,
) error {
	listenConfig := net.ListenConfig{}
	if a.config.ReuseAddress {
		listenConfig.Control = socketControl
	}
	ln, err := listenConfig.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for API server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	return nil
}
