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

// GetAccount returns a single account by principal, or nil if not found.
func (d *MetadataStoreSqlite) GetAccount(
	principal string,
	txn types.Txn,
) (*models.Account, error) {
	var ret models.Account
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetAccount: resolve db: %w", err,
		)
	}
	result := db.Where("principal = ?", principal).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf(
			"GetAccount: query: %w", result.Error,
		)
	}
	return &ret, nil
}

// GetAccounts returns all accounts ordered by principal
func (d *MetadataStoreSqlite) GetAccounts(
	txn types.Txn,
) ([]models.Account, error) {
	var ret []models.Account
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetAccounts: resolve db: %w", err,
		)
	}
	result := db.Order("principal").Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf(
			"GetAccounts: query: %w", result.Error,
		)
	}
	return ret, nil
}

// SetAccount saves an account balance
func (d *MetadataStoreSqlite) SetAccount(
	account *models.Account,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetAccount: resolve db: %w", err)
	}
	if result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "principal"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"balance",
		}),
	}).Create(account); result.Error != nil {
		return fmt.Errorf(
			"SetAccount: create account: %w",
			result.Error,
		)
	}
	return nil
}
