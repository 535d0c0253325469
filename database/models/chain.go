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

import "github.com/cachet-io/cachet/database/types"

// Chain is a multi-step escrow: an ordered sequence of locked amounts the
// recipient releases one step at a time, in order.
type Chain struct {
	ID            string `gorm:"primarykey;size:32"`
	Creator       string `gorm:"index;size:64"`
	Recipient     string `gorm:"index;size:64"`
	TotalAmount   types.Uint64
	FeeBps        uint32
	StepCount     uint32
	CurrentStep   uint32
	Title         string `gorm:"size:200"`
	Description   string `gorm:"size:1000"`
	Status        uint8  `gorm:"index"`
	ExpiredNotice bool
	ExpiresAt     int64 `gorm:"index"`
	CreatedAt     int64
	CompletedAt   int64
	RefundedAt    int64
}

func (Chain) TableName() string {
	return "chain"
}

// Terminal reports whether the chain has reached a final status
func (c *Chain) Terminal() bool {
	return c.Status != StatusActive
}

// ExpiredAt reports whether the chain's claim window has passed at the given
// unix time
func (c *Chain) ExpiredAt(unixTime int64) bool {
	return unixTime >= c.ExpiresAt
}

// ChainStep is one unlockable step within a chain. Reward content bytes are
// stored in the blob store; the row carries only their content type.
type ChainStep struct {
	ChainID             string `gorm:"primarykey;size:32"`
	StepIndex           uint32 `gorm:"primarykey;autoIncrement:false"`
	Amount              types.Uint64
	UnlockType          uint8
	ChallengeDigest     []byte `gorm:"size:32"`
	TargetLat           int64
	TargetLon           int64
	Radius              uint32
	AttestationRequired bool
	Title               string `gorm:"size:200"`
	Message             string `gorm:"size:1000"`
	RewardContentType   string
	HasRewardContent    bool
	Completed           bool
	CompletedAt         int64
	SettledFee          types.Uint64
	SettledPayout       types.Uint64
	ClaimAttempts       uint64
	LastAttemptAt       int64
	// LastAttemptDistance is meters from the most recent location attempt,
	// -1 when no location attempt has been recorded. Always set explicitly
	// so that a recorded distance of 0 survives upserts.
	LastAttemptDistance int64
}

func (ChainStep) TableName() string {
	return "chain_step"
}

// ChainQuery filters and paginates chain listings
type ChainQuery struct {
	Creator   string
	Recipient string
	Status    *uint8
	Limit     int
	Offset    int
}
