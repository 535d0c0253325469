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

// GetGift returns a single gift by its ID, or nil if not found.
func (d *MetadataStoreSqlite) GetGift(
	giftId uint64,
	txn types.Txn,
) (*models.Gift, error) {
	var ret models.Gift
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetGift: resolve db: %w", err,
		)
	}
	result := db.Where("id = ?", giftId).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf(
			"GetGift: query: %w", result.Error,
		)
	}
	return &ret, nil
}

func giftQueryFilter(db *gorm.DB, query models.GiftQuery) *gorm.DB {
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

// GetGifts returns the gifts matching the given query, newest first, along
// with the total match count before pagination
func (d *MetadataStoreSqlite) GetGifts(
	query models.GiftQuery,
	txn types.Txn,
) ([]models.Gift, int64, error) {
	var ret []models.Gift
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, 0, fmt.Errorf(
			"GetGifts: resolve db: %w", err,
		)
	}
	var total int64
	result := giftQueryFilter(db.Model(&models.Gift{}), query).Count(&total)
	if result.Error != nil {
		return nil, 0, fmt.Errorf(
			"GetGifts: count: %w", result.Error,
		)
	}
	listQuery := giftQueryFilter(db.Model(&models.Gift{}), query).
		Order("id DESC")
	if query.Limit > 0 {
		listQuery = listQuery.Limit(query.Limit)
	}
	if query.Offset > 0 {
		listQuery = listQuery.Offset(query.Offset)
	}
	result = listQuery.Find(&ret)
	if result.Error != nil {
		return nil, 0, fmt.Errorf(
			"GetGifts: query: %w", result.Error,
		)
	}
	return ret, total, nil
}

// GetGiftsExpiringBefore returns active gifts whose expiry time has passed
// and which haven't been flagged as expired yet
func (d *MetadataStoreSqlite) GetGiftsExpiringBefore(
	unixTime int64,
	txn types.Txn,
) ([]models.Gift, error) {
	var ret []models.Gift
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, fmt.Errorf(
			"GetGiftsExpiringBefore: resolve db: %w", err,
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
			"GetGiftsExpiringBefore: query: %w", result.Error,
		)
	}
	return ret, nil
}

// SetGift saves a gift. A gift with a zero ID is assigned the next available
// ID on insert.
func (d *MetadataStoreSqlite) SetGift(
	gift *models.Gift,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return fmt.Errorf("SetGift: resolve db: %w", err)
	}
	result := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(gift)
	if result.Error != nil {
		return fmt.Errorf(
			"SetGift: create gift: %w",
			result.Error,
		)
	}
	return nil
}
