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
	"errors"

	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
)

func (d *Database) GetChain(chainId string, txn *Txn) (*models.Chain, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetChain(chainId, txn.Metadata())
}

func (d *Database) GetChains(
	query models.ChainQuery,
	txn *Txn,
) ([]models.Chain, int64, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetChains(query, txn.Metadata())
}

func (d *Database) GetChainsExpiringBefore(
	unixTime int64,
	txn *Txn,
) ([]models.Chain, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetChainsExpiringBefore(unixTime, txn.Metadata())
}

func (d *Database) SetChain(chain *models.Chain, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	if err := d.metadata.SetChain(chain, txn.Metadata()); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

func (d *Database) GetChainStep(
	chainId string,
	stepIndex uint32,
	txn *Txn,
) (*models.ChainStep, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetChainStep(chainId, stepIndex, txn.Metadata())
}

func (d *Database) GetChainSteps(
	chainId string,
	txn *Txn,
) ([]models.ChainStep, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	return d.metadata.GetChainSteps(chainId, txn.Metadata())
}

func (d *Database) SetChainStep(step *models.ChainStep, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	if err := d.metadata.SetChainStep(step, txn.Metadata()); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

// SetChainStepReward stores the reward content revealed by completing a step.
// The bytes live in the blob store; the step row carries the content type.
func (d *Database) SetChainStepReward(
	chainId string,
	stepIndex uint32,
	content []byte,
	txn *Txn,
) error {
	owned := false
	if txn == nil {
		txn = d.Transaction(true)
		owned = true
		defer txn.Release()
	}
	key := types.RewardBlobKey(chainId, stepIndex)
	if err := d.blob.Set(txn.Blob(), key, content); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

// GetChainStepReward returns the reward content for a step, or nil when the
// step has none
func (d *Database) GetChainStepReward(
	chainId string,
	stepIndex uint32,
	txn *Txn,
) ([]byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	key := types.RewardBlobKey(chainId, stepIndex)
	content, err := d.blob.Get(txn.Blob(), key)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return content, nil
}
