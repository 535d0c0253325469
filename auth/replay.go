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

package auth

import (
	"sync"
	"time"
)

// ReplayCache remembers envelope digests for the freshness window so a
// captured envelope cannot be submitted twice while still fresh. Entries
// expire with the window; anything older is already rejected as stale.
type ReplayCache struct {
	sync.Mutex
	ttl     time.Duration
	entries map[[32]byte]time.Time
}

func NewReplayCache(ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = 2 * DefaultEnvelopeWindow
	}
	return &ReplayCache{
		ttl:     ttl,
		entries: make(map[[32]byte]time.Time),
	}
}

// Observe records a digest and reports whether it was already present.
// Expired entries are pruned opportunistically on each call.
func (r *ReplayCache) Observe(digest [32]byte, now time.Time) bool {
	r.Lock()
	defer r.Unlock()
	for k, seen := range r.entries {
		if now.Sub(seen) > r.ttl {
			delete(r.entries, k)
		}
	}
	if seen, ok := r.entries[digest]; ok && now.Sub(seen) <= r.ttl {
		return true
	}
	r.entries[digest] = now
	return false
}

// Len returns the number of live entries
func (r *ReplayCache) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.entries)
}
