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

package metadata

import (
	"fmt"
	"log/slog"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/plugin"
	"github.com/cachet-io/cachet/database/plugin/metadata/sqlite"
	"github.com/cachet-io/cachet/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// MetadataStore is the interface for relational ledger state. Write methods
// take a transaction handle; read methods accept a nil handle and then read
// outside any transaction.
type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(int64, types.Txn) error
	Transaction() types.Txn

	// Gifts
	GetGift(uint64, types.Txn) (*models.Gift, error)
	GetGifts(models.GiftQuery, types.Txn) ([]models.Gift, int64, error)
	GetGiftsExpiringBefore(int64, types.Txn) ([]models.Gift, error)
	SetGift(*models.Gift, types.Txn) error

	// Chains and steps
	GetChain(string, types.Txn) (*models.Chain, error)
	GetChains(models.ChainQuery, types.Txn) ([]models.Chain, int64, error)
	GetChainsExpiringBefore(int64, types.Txn) ([]models.Chain, error)
	SetChain(*models.Chain, types.Txn) error
	GetChainStep(string, uint32, types.Txn) (*models.ChainStep, error)
	GetChainSteps(string, types.Txn) ([]models.ChainStep, error)
	SetChainStep(*models.ChainStep, types.Txn) error

	// Relay nonces
	GetNonce(string, types.Txn) (uint64, error)
	SetNonce(string, uint64, types.Txn) error

	// Claim attempts
	AddAttempt(*models.Attempt, types.Txn) error
	GetAttempts(string, types.Txn) ([]models.Attempt, error)

	// Accounts
	GetAccount(string, types.Txn) (*models.Account, error)
	GetAccounts(types.Txn) ([]models.Account, error)
	SetAccount(*models.Account, types.Txn) error

	// Ledger parameters
	GetParam(string, types.Txn) (string, error)
	SetParam(string, string, types.Txn) error
}

// New returns the started metadata store selected by plugin name. The
// built-in sqlite backend is constructed directly so the logger and metrics
// registry can be passed through; other names go through the plugin registry.
func New(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	if pluginName == "sqlite" {
		return sqlite.New(dataDir, logger, promRegistry)
	}
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName)
	if err != nil {
		return nil, err
	}
	metadataStore, ok := p.(MetadataStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return metadataStore, nil
}
