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

package cachet

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	dataDir          string
	apiListenAddress string
	reuseAddress     bool
	envelopeWindow   time.Duration
	// Capability principals
	operators          []auth.Principal
	emergencyOperators []auth.Principal
	verifiers          []auth.Principal
	attestationWindow  time.Duration
	// Expiry sweeping
	expirySweepInterval time.Duration
	// Journal archival (disabled when bucket is empty)
	archiveBucket          string
	archiveCredentialsFile string
	archiveObjectPrefix    string
	archiveInterval        time.Duration
	tracing                bool
	tracingStdout          bool
	shutdownTimeout        time.Duration
}

func (n *Node) configValidate() error {
	if len(n.config.operators) == 0 {
		return errors.New("no operator principals configured")
	}
	if n.config.archiveBucket == "" && n.config.archiveCredentialsFile != "" {
		return errors.New(
			"archive credentials configured without an archive bucket",
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new cachet config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithApiListenAddress specifies the listen address for the node API server. The default is :3000
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithReuseAddress specifies whether to set SO_REUSEADDR/SO_REUSEPORT on the API listener. This is disabled by default
func WithReuseAddress(reuse bool) ConfigOptionFunc {
	return func(c *Config) {
		c.reuseAddress = reuse
	}
}

// WithEnvelopeWindow specifies the request envelope freshness window. Zero selects the default
func WithEnvelopeWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.envelopeWindow = window
	}
}

// WithOperators specifies the principals holding the operator capability
// (deposits, fee parameter changes)
func WithOperators(operators ...auth.Principal) ConfigOptionFunc {
	return func(c *Config) {
		c.operators = append(c.operators, operators...)
	}
}

// WithEmergencyOperators specifies the principals holding the emergency
// capability (pre-expiry recovery)
func WithEmergencyOperators(operators ...auth.Principal) ConfigOptionFunc {
	return func(c *Config) {
		c.emergencyOperators = append(c.emergencyOperators, operators...)
	}
}

// WithVerifiers specifies the principals trusted to sign location
// attestations
func WithVerifiers(verifiers ...auth.Principal) ConfigOptionFunc {
	return func(c *Config) {
		c.verifiers = append(c.verifiers, verifiers...)
	}
}

// WithAttestationWindow specifies how old a location attestation may be.
// Zero selects the default
func WithAttestationWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.attestationWindow = window
	}
}

// WithExpirySweepInterval specifies how often past-due escrows are flagged.
// Zero selects the default
func WithExpirySweepInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.expirySweepInterval = interval
	}
}

// WithArchiveBucket specifies the GCS bucket for journal archival. An empty
// string disables the archiver. The default is empty (disabled)
func WithArchiveBucket(bucket string) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveBucket = bucket
	}
}

// WithArchiveCredentialsFile specifies a service account key file for the
// journal archiver. The default credential chain is used when empty
func WithArchiveCredentialsFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveCredentialsFile = path
	}
}

// WithArchiveObjectPrefix specifies the object name prefix for archived
// journal segments. The default is journal/
func WithArchiveObjectPrefix(prefix string) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveObjectPrefix = prefix
	}
}

// WithArchiveInterval specifies the pause between journal archive passes.
// Zero selects the default
func WithArchiveInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveInterval = interval
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
