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
	"errors"

	"github.com/cachet-io/cachet/database/types"
)

var ErrAccountNotFound = errors.New("account not found")

// Account holds a principal's spendable balance. Escrowed amounts are not
// part of the balance; they move back on claim, refund, or recovery.
type Account struct {
	Principal string `gorm:"primarykey;size:64"`
	Balance   types.Uint64
}

func (Account) TableName() string {
	return "account"
}
