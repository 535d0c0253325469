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

package database

import (
	"github.com/cachet-io/cachet/database/models"
)

func (d *Database) AddAttempt(attempt *models.Attempt, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	if err := d.metadata.AddAttempt(attempt, txn.Metadata()); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

func (d *Database) GetAttempts(
	targetKey string,
	txn *Txn,
) ([]models.Attempt, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetAttempts(targetKey, txn.Metadata())
}
