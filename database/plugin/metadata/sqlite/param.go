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

// GetParam returns the stored value for a ledger parameter, or an empty
// string when the parameter has never been set
func (d *MetadataStoreSqlite) GetParam(
	key string,
	txn types.Txn,
) (string, error) {
	var ret models.Param
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return "", fmt.Errorf(
			"GetParam: resolve db: %w", err,
		)
	}
	result := db.Where("key = ?", key).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf(
			"GetParam: query: %w", result.Error,
		)
	}
	return ret.Value, nil
}

// SetParam saves a ledger parameter
func (d *MetadataStoreSqlite) SetParam(
	key string,
	value string,
	txn types.Txn,
) error {
	tmpItem := models.Param{
		Key:   key,
		Value: value,
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetParam: resolve db: %w", err)
	}
	if result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
		}),
	}).Create(&tmpItem); result.Error != nil {
		return fmt.Errorf(
			"SetParam: create param: %w",
			result.Error,
		)
	}
	return nil
}
