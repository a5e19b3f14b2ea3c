// Copyright 2023 The mqttmux Authors
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

package subcount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterTransitions(t *testing.T) {
	c := NewCounter()

	assert.False(t, c.Include("sensors/+/temp"))

	// First registration is the 0->1 transition.
	assert.True(t, c.Add("sensors/+/temp"))
	assert.True(t, c.Include("sensors/+/temp"))

	// Further registrations are not.
	assert.False(t, c.Add("sensors/+/temp"))
	assert.False(t, c.Add("sensors/+/temp"))

	// Only the removal that empties the filter is the 1->0 transition.
	assert.False(t, c.Remove("sensors/+/temp"))
	assert.False(t, c.Remove("sensors/+/temp"))
	assert.True(t, c.Remove("sensors/+/temp"))
	assert.False(t, c.Include("sensors/+/temp"))

	// Removing past zero is a silent no-op.
	assert.False(t, c.Remove("sensors/+/temp"))
}

func TestCounterKeysSnapshot(t *testing.T) {
	c := NewCounter()
	c.Add("a/b")
	c.Add("a/#")
	c.Add("a/b")

	keys := c.Keys()
	assert.ElementsMatch(t, []string{"a/b", "a/#"}, keys)

	// Mutations after the snapshot must not be visible through it.
	c.Remove("a/#")
	c.Add("c/d")
	assert.ElementsMatch(t, []string{"a/b", "a/#"}, keys)
	assert.ElementsMatch(t, []string{"a/b", "c/d"}, c.Keys())
}

func TestCounterClear(t *testing.T) {
	c := NewCounter()
	c.Add("a")
	c.Add("b")
	c.Clear()

	assert.Empty(t, c.Keys())
	assert.False(t, c.Include("a"))
	assert.False(t, c.Remove("a"))
}

func TestCounterConcurrentAddRemove(t *testing.T) {
	c := NewCounter()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add("shared/topic")
				c.Keys()
				c.Remove("shared/topic")
			}
		}()
	}
	wg.Wait()

	assert.False(t, c.Include("shared/topic"))
	assert.Empty(t, c.Keys())
}
