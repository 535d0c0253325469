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

// Claim attempt outcomes
const (
	AttemptOutcomeSuccess = "success"
	AttemptOutcomeFailure = "verification_failed"
)

// Attempt records one claim attempt against a gift or chain step. Failed
// attempts are kept alongside successful ones so creators can see how close
// a recipient got.
type Attempt struct {
	ID        uint64 `gorm:"primarykey"`
	TargetKey string `gorm:"index;size:80"`
	// Number is the target's claim attempt counter after this attempt
	Number    uint64
	Recipient string `gorm:"size:64"`
	Outcome   string
	// Reason describes why verification failed, empty on success
	Reason string
	// Distance is meters from the challenge target for location attempts,
	// -1 for non-location challenges
	Distance  int64
	Relayed   bool
	CreatedAt int64
}

func (Attempt) TableName() string {
	return "attempt"
}
