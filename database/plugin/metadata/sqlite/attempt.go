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
	"fmt"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
)

// AddAttempt records a claim attempt. Attempts are append-only.
func (d *MetadataStoreSqlite) AddAttempt(
	attempt *models.Attempt,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("AddAttempt: resolve db: %w", err)
	}
	if result := db.Create(attempt); result.Error != nil {
		return fmt.Errorf(
			"AddAttempt: create attempt: %w",
			result.Error,
		)
	}
	return nil
}

// GetAttempts returns all recorded claim attempts against the given target
// in the order they happened
func (d *MetadataStoreSqlite) GetAttempts(
	targetKey string,
	txn types.Txn,
) ([]models.Attempt, error) {
	var ret []models.Attempt
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetAttempts: resolve db: %w", err,
		)
	}
	result := db.
		Where("target_key = ?", targetKey).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf(
			"GetAttempts: query: %w", result.Error,
		)
	}
	return ret, nil
}
