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

package sqlite

import (
	"errors"
	"fmt"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetChain returns a single chain by its ID, or nil if not found.
func (d *MetadataStoreSqlite) GetChain(
	chainId string,
	txn types.Txn,
) (*models.Chain, error) {
	var ret models.Chain
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetChain: resolve db: %w", err,
		)
	}
	result := db.Where("id = ?", chainId).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf(
			"GetChain: query: %w", result.Error,
		)
	}
	return &ret, nil
}

func chainQueryFilter(db *gorm.DB, query models.ChainQuery) *gorm.DB {
	if query.Creator != "" {
		db = db.Where("creator = ?", query.Creator)
	}
	if query.Recipient != "" {
		db = db.Where("recipient = ?", query.Recipient)
	}
	if query.Status != nil {
		db = db.Where("status = ?", *query.Status)
	}
	return db
}

// GetChains returns the chains matching the given query, newest first, along
// with the total match count before pagination
func (d *MetadataStoreSqlite) GetChains(
	query models.ChainQuery,
	txn types.Txn,
) ([]models.Chain, int64, error) {
	var ret []models.Chain
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, 0, fmt.Errorf(
			"GetChains: resolve db: %w", err,
		)
	}
	var total int64
	result := chainQueryFilter(db.Model(&models.Chain{}), query).Count(&total)
	if result.Error != nil {
		return nil, 0, fmt.Errorf(
			"GetChains: count: %w", result.Error,
		)
	}
	listQuery := chainQueryFilter(db.Model(&models.Chain{}), query).
		Order("created_at DESC")
	if query.Limit > 0 {
		listQuery = listQuery.Limit(query.Limit)
	}
	if query.Offset > 0 {
		listQuery = listQuery.Offset(query.Offset)
	}
	result = listQuery.Find(&ret)
	if result.Error != nil {
		return nil, 0, fmt.Errorf(
			"GetChains: query: %w", result.Error,
		)
	}
	return ret, total, nil
}

// GetChainsExpiringBefore returns active chains whose expiry time has passed
// and which haven't been flagged as expired yet
func (d *MetadataStoreSqlite) GetChainsExpiringBefore(
	unixTime int64,
	txn types.Txn,
) ([]models.Chain, error) {
	var ret []models.Chain
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetChainsExpiringBefore: resolve db: %w", err,
		)
	}
	result := db.
		Where(
			"status = ? AND expired_notice = ? AND expires_at <= ?",
			models.StatusActive,
			false,
			unixTime,
		).
		Order("expires_at").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf(
			"GetChainsExpiringBefore: query: %w", result.Error,
		)
	}
	return ret, nil
}

// SetChain saves a chain
func (d *MetadataStoreSqlite) SetChain(
	chain *models.Chain,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetChain: resolve db: %w", err)
	}
	result := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(chain)
	if result.Error != nil {
		return fmt.Errorf(
			"SetChain: create chain: %w",
			result.Error,
		)
	}
	return nil
}

// GetChainStep returns a single chain step, or nil if not found.
func (d *MetadataStoreSqlite) GetChainStep(
	chainId string,
	stepIndex uint32,
	txn types.Txn,
) (*models.ChainStep, error) {
	var ret models.ChainStep
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetChainStep: resolve db: %w", err,
		)
	}
	result := db.
		Where("chain_id = ? AND step_index = ?", chainId, stepIndex).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf(
			"GetChainStep: query: %w", result.Error,
		)
	}
	return &ret, nil
}

// GetChainSteps returns all steps for a chain in step order
func (d *MetadataStoreSqlite) GetChainSteps(
	chainId string,
	txn types.Txn,
) ([]models.ChainStep, error) {
	var ret []models.ChainStep
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetChainSteps: resolve db: %w", err,
		)
	}
	result := db.
		Where("chain_id = ?", chainId).
		Order("step_index").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf(
			"GetChainSteps: query: %w", result.Error,
		)
	}
	return ret, nil
}

// SetChainStep saves a chain step
func (d *MetadataStoreSqlite) SetChainStep(
	step *models.ChainStep,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetChainStep: resolve db: %w", err)
	}
	result := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(step)
	if result.Error != nil {
		return fmt.Errorf(
			"SetChainStep: create chain step: %w",
			result.Error,
		)
	}
	return nil
}
