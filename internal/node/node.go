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
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cachet-io/cachet"
	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	envelopeWindow, err := parseDuration(
		"envelope window",
		cfg.EnvelopeWindow,
	)
	if err != nil {
		return err
	}
	attestationWindow, err := parseDuration(
		"attestation window",
		cfg.AttestationWindow,
	)
	if err != nil {
		return err
	}
	expirySweepInterval, err := parseDuration(
		"expiry sweep interval",
		cfg.ExpirySweepInterval,
	)
	if err != nil {
		return err
	}
	archiveInterval, err := parseDuration(
		"archive interval",
		cfg.ArchiveInterval,
	)
	if err != nil {
		return err
	}

	operators, err := parsePrincipals("operator", cfg.Operators)
	if err != nil {
		return err
	}
	emergencyOperators, err := parsePrincipals(
		"emergency operator",
		cfg.EmergencyOperators,
	)
	if err != nil {
		return err
	}
	verifiers, err := parsePrincipals("verifier", cfg.Verifiers)
	if err != nil {
		return err
	}

	n, err := cachet.New(
		cachet.NewConfig(
			cachet.WithLogger(logger),
			cachet.WithDataDir(cfg.DataDir),
			cachet.WithApiListenAddress(
				fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
			),
			cachet.WithReuseAddress(cfg.SocketReuse),
			cachet.WithEnvelopeWindow(envelopeWindow),
			cachet.WithOperators(operators...),
			cachet.WithEmergencyOperators(emergencyOperators...),
			cachet.WithVerifiers(verifiers...),
			cachet.WithAttestationWindow(attestationWindow),
			cachet.WithExpirySweepInterval(expirySweepInterval),
			cachet.WithArchiveBucket(cfg.ArchiveBucket),
			cachet.WithArchiveCredentialsFile(cfg.ArchiveCredentials),
			cachet.WithArchiveObjectPrefix(cfg.ArchiveObjectPrefix),
			cachet.WithArchiveInterval(archiveInterval),
			// Enable metrics with default prometheus registry
			cachet.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			cachet.WithTracing(cfg.Tracing),
			cachet.WithTracingStdout(cfg.TracingStdout),
			cachet.WithShutdownTimeout(shutdownTimeout),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	metricsServer := startMetricsListener(cfg, logger, "node")
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := n.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown node
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("node stopped")
			// Graceful cleanup
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := n.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("node error", "error", err)
		signalCtxStop()

		// Shutdown node resources
		if stopErr := n.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		// Cleanup on error
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}

// startMetricsListener registers the prometheus handler on the default mux
// (which also carries the pprof debug handlers) and serves it in the
// background. A failed bind exits the process.
func startMetricsListener(
	cfg *config.Config,
	logger *slog.Logger,
	component string,
) *http.Server {
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		component,
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", component,
			)
			os.Exit(1)
		}
	}()
	return metricsServer
}

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func parsePrincipals(
	role string,
	values []string,
) ([]auth.Principal, error) {
	principals := make([]auth.Principal, 0, len(values))
	for _, value := range values {
		p, err := auth.ParsePrincipal(value)
		if err != nil {
			return nil, fmt.Errorf(
				"invalid %s principal %q: %w",
				role,
				value,
				err,
			)
		}
		principals = append(principals, p)
	}
	return principals, nil
}
