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

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingSetAcquireRelease(t *testing.T) {
	pending := newPendingSet()
	assert.Equal(t, 0, pending.Size())

	assert.True(t, pending.Acquire("g/1", "alice"))
	assert.False(t, pending.Acquire("g/1", "alice"))
	assert.Equal(t, 1, pending.Size())

	// A different recipient or target is a different flight
	assert.True(t, pending.Acquire("g/1", "bob"))
	assert.True(t, pending.Acquire("g/2", "alice"))
	assert.Equal(t, 3, pending.Size())

	pending.Release("g/1", "alice")
	assert.Equal(t, 2, pending.Size())
	assert.True(t, pending.Acquire("g/1", "alice"))

	// Releasing an unknown key is a no-op
	pending.Release("g/99", "nobody")
	assert.Equal(t, 3, pending.Size())
}

func TestPendingSetConcurrentAcquire(t *testing.T) {
	pending := newPendingSet()
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pending.Acquire("c/abc/0", "alice") {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
	assert.Equal(t, 1, pending.Size())
}
