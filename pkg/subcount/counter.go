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

// Package subcount tracks how many local subscribers are registered per topic
// filter. The multiplexer uses the 0->1 and 1->0 transitions it reports to
// decide when a broker-level subscribe or unsubscribe is actually required, so
// that N local subscribers on the same filter cost a single broker
// subscription.
package subcount

import "sync"

// Counter is a thread-safe reference counter keyed by topic filter. A filter
// is present in the counter if and only if its count is greater than zero.
type Counter struct {
	counts map[string]int
	mu     sync.RWMutex
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Add increments the count for filter and reports whether this registration
// was the first one, i.e. the count transitioned from zero to one.
func (c *Counter) Add(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[filter]++
	return c.counts[filter] == 1
}

// Remove decrements the count for filter and reports whether this removal was
// the last one, i.e. the count transitioned from one to zero. Removing a
// filter that is not counted is a no-op and returns false.
func (c *Counter) Remove(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.counts[filter]
	if !ok {
		return false
	}
	if n == 1 {
		delete(c.counts, filter)
		return true
	}
	c.counts[filter] = n - 1
	return false
}

// Include reports whether filter currently has at least one registration.
func (c *Counter) Include(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.counts[filter] > 0
}

// Keys returns a snapshot of every counted filter. The returned slice is a
// copy; later Add or Remove calls do not affect it. Order is unspecified.
func (c *Counter) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.counts))
	for filter := range c.counts {
		keys = append(keys, filter)
	}
	return keys
}

// Clear drops every count. It is used by the adapter's close path only.
func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts = make(map[string]int)
}
