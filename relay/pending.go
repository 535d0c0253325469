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

package relay

import "sync"

type pendingKey struct {
	target    string
	recipient string
}

// pendingSet tracks claims currently in flight toward the node, keyed by
// claim target and recipient. The guard is advisory: it stops duplicate
// submissions from racing each other through this relay; the ledger's
// nonce check remains the authoritative replay defense.
type pendingSet struct {
	mu      sync.Mutex
	entries map[pendingKey]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		entries: make(map[pendingKey]struct{}),
	}
}

// Acquire marks a claim as in flight. It returns false when an identical
// claim is already pending.
func (p *pendingSet) Acquire(target string, recipient string) bool {
	key := pendingKey{target: target, recipient: recipient}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[key]; exists {
		return false
	}
	p.entries[key] = struct{}{}
	return true
}

// Release clears an in-flight claim. Safe to call for a key that was never
// acquired.
func (p *pendingSet) Release(target string, recipient string) {
	key := pendingKey{target: target, recipient: recipient}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Size returns the number of claims currently in flight.
func (p *pendingSet) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
