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

// Nonce tracks the next expected relay nonce for one gift or chain step
// identity. The key is the target's nonce key ("g/<id>" or "c/<chainId>/<idx>").
type Nonce struct {
	Key   string `gorm:"primarykey;size:80"`
	Value types.Uint64
}

func (Nonce) TableName() string {
	return "nonce"
}
