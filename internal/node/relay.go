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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/cachet-io/cachet/internal/config"
	"github.com/cachet-io/cachet/keystore"
	"github.com/cachet-io/cachet/relay"
	"github.com/prometheus/client_golang/prometheus"
)

// RunRelay runs the relay service until interrupted. The relay holds its
// own signing key and submits claims to the node named by the config.
func RunRelay(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "relay")

	if cfg.KeyFile == "" {
		return errors.New("no relay signing key configured (keyFile)")
	}
	key, err := keystore.Load(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load relay signing key: %w", err)
	}

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	nodeTimeout, err := parseDuration("node timeout", cfg.NodeTimeout)
	if err != nil {
		return err
	}

	rl, err := relay.New(
		relay.RelayConfig{
			ListenAddress: fmt.Sprintf(
				"%s:%d",
				cfg.BindAddr,
				cfg.RelayPort,
			),
			NodeURL:      cfg.NodeURL,
			Key:          key.PrivateKey(),
			NodeTimeout:  nodeTimeout,
			PromRegistry: prometheus.DefaultRegisterer,
		},
		logger,
	)
	if err != nil {
		return err
	}
	logger.Info(
		"relay principal: "+string(rl.Principal()),
		"component", "relay",
	)
	// Metrics and debug listener
	metricsServer := startMetricsListener(cfg, logger, "relay")
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	if err := rl.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := rl.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
