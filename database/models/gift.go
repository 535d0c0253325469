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

package models

import (
	"fmt"

	"github.com/cachet-io/cachet/database/types"
)

// Escrow status values shared by gifts and chains
const (
	StatusActive    uint8 = 0
	StatusClaimed   uint8 = 1
	StatusRefunded  uint8 = 2
	StatusRecovered uint8 = 3
	StatusCompleted uint8 = 4
)

// StatusName returns the lowercase name used in API responses and journal entries
func StatusName(status uint8) string {
	switch status {
	case StatusActive:
		return "active"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	case StatusRecovered:
		return "recovered"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", status)
	}
}

// Gift is a single-step escrow: a locked amount the named recipient releases
// by satisfying one unlock challenge before expiry.
type Gift struct {
	ID                  uint64 `gorm:"primarykey"`
	Creator             string `gorm:"index;size:64"`
	Recipient           string `gorm:"index;size:64"`
	Amount              types.Uint64
	FeeBps              uint32
	UnlockType          uint8
	ChallengeDigest     []byte `gorm:"size:32"`
	TargetLat           int64
	TargetLon           int64
	Radius              uint32
	AttestationRequired bool
	Title               string `gorm:"size:200"`
	Message             string `gorm:"size:1000"`
	ClueText            string `gorm:"size:500"`
	Status              uint8  `gorm:"index"`
	ExpiredNotice       bool
	ExpiresAt           int64 `gorm:"index"`
	CreatedAt           int64
	ClaimedAt           int64
	RefundedAt          int64
	SettledFee          types.Uint64
	SettledPayout       types.Uint64
	ClaimAttempts       uint64
	LastAttemptAt       int64
	// LastAttemptDistance is meters from the most recent location attempt,
	// -1 when no location attempt has been recorded. Always set explicitly
	// so that a recorded distance of 0 survives upserts.
	LastAttemptDistance int64
}

func (Gift) TableName() string {
	return "gift"
}

// Terminal reports whether the gift has reached a final status
func (g *Gift) Terminal() bool {
	return g.Status != StatusActive
}

// ExpiredAt reports whether the gift's claim window has passed at the given
// unix time
func (g *Gift) ExpiredAt(unixTime int64) bool {
	return unixTime >= g.ExpiresAt
}

// GiftQuery filters and paginates gift listings
type GiftQuery struct {
	Creator   string
	Recipient string
	Status    *uint8
	Limit     int
	Offset    int
}
