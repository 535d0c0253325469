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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "cachet.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	BindAddr            string   `yaml:"bindAddr"               split_words:"true"`
	DataDir             string   `yaml:"dataDir"                split_words:"true"`
	KeyFile             string   `yaml:"keyFile"                split_words:"true"`
	NodeURL             string   `yaml:"nodeUrl"                envconfig:"NODE_URL"`
	NodeTimeout         string   `yaml:"nodeTimeout"            split_words:"true"`
	ShutdownTimeout     string   `yaml:"shutdownTimeout"        split_words:"true"`
	EnvelopeWindow      string   `yaml:"envelopeWindow"         split_words:"true"`
	AttestationWindow   string   `yaml:"attestationWindow"      split_words:"true"`
	ExpirySweepInterval string   `yaml:"expirySweepInterval"    split_words:"true"`
	ArchiveBucket       string   `yaml:"archiveBucket"          split_words:"true"`
	ArchiveCredentials  string   `yaml:"archiveCredentialsFile" envconfig:"ARCHIVE_CREDENTIALS_FILE"`
	ArchiveObjectPrefix string   `yaml:"archiveObjectPrefix"    split_words:"true"`
	ArchiveInterval     string   `yaml:"archiveInterval"        split_words:"true"`
	Operators           []string `yaml:"operators"`
	EmergencyOperators  []string `yaml:"emergencyOperators"     split_words:"true"`
	Verifiers           []string `yaml:"verifiers"`
	ApiPort             uint     `yaml:"apiPort"                envconfig:"port"`
	RelayPort           uint     `yaml:"relayPort"              split_words:"true"`
	MetricsPort         uint     `yaml:"metricsPort"            split_words:"true"`
	SocketReuse         bool     `yaml:"socketReuse"            split_words:"true"`
	Tracing             bool     `yaml:"tracing"`
	TracingStdout       bool     `yaml:"tracingStdout"          split_words:"true"`
}

var globalConfig = &Config{
	BindAddr:        "0.0.0.0",
	DataDir:         ".cachet",
	NodeURL:         "http://localhost:3000",
	ShutdownTimeout: DefaultShutdownTimeout,
	ApiPort:         3000,
	RelayPort:       3100,
	MetricsPort:     2112,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.cachet/cachet.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".cachet", "cachet.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/cachet/cachet.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/cachet/cachet.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("cachet", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
