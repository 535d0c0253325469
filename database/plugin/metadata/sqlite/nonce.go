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

// GetNonce returns the stored relay nonce for the given key, or 0 when the
// key has never been used
func (d *MetadataStoreSqlite) GetNonce(
	key string,
	txn types.Txn,
) (uint64, error) {
	var ret models.Nonce
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return 0, fmt.Errorf(
			"GetNonce: resolve db: %w", err,
		)
	}
	result := db.Where("key = ?", key).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf(
			"GetNonce: query: %w", result.Error,
		)
	}
	return uint64(ret.Value), nil
}

// SetNonce saves the relay nonce for the given key
func (d *MetadataStoreSqlite) SetNonce(
	key string,
	value uint64,
	txn types.Txn,
) error {
	tmpItem := models.Nonce{
		Key:   key,
		Value: types.Uint64(value),
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetNonce: resolve db: %w", err)
	}
	if result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
		}),
	}).Create(&tmpItem); result.Error != nil {
		return fmt.Errorf(
			"SetNonce: create nonce: %w",
			result.Error,
		)
	}
	return nil
}
