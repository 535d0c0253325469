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

// Ledger parameter keys
const (
	ParamFeeBps       = "fee_bps"
	ParamFeeRecipient = "fee_recipient"
	ParamJournalSeq   = "journal_seq"
	ParamValueLocked  = "value_locked"
)

// Param is a single ledger-wide key/value setting
type Param struct {
	Key   string `gorm:"primarykey;size:32"`
	Value string
}

func (Param) TableName() string {
	return "param"
}
