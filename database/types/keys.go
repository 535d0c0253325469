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

package types

import (
	"encoding/binary"
	"fmt"
)

const (
	JournalBlobKeyPrefix = "j"
	RewardBlobKeyPrefix  = "r"
)

func Uint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// JournalBlobKey builds the blob key for a journal entry by sequence number.
// Big-endian sequence bytes keep prefix iteration in append order.
func JournalBlobKey(seq uint64) []byte {
	key := []byte(JournalBlobKeyPrefix)
	key = append(key, Uint64ToBytes(seq)...)
	return key
}

// JournalSeqFromKey extracts the sequence number from a journal blob key
func JournalSeqFromKey(key []byte) (uint64, error) {
	prefixLen := len(JournalBlobKeyPrefix)
	if len(key) != prefixLen+8 {
		return 0, fmt.Errorf("malformed journal key length %d", len(key))
	}
	return binary.BigEndian.Uint64(key[prefixLen:]), nil
}

// RewardBlobKey builds the blob key for a chain step's reward content
func RewardBlobKey(chainId string, stepIndex uint32) []byte {
	key := []byte(RewardBlobKeyPrefix)
	key = append(key, []byte(chainId)...)
	idxBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBytes, stepIndex)
	key = append(key, idxBytes...)
	return key
}
