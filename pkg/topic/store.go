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

// Package topic provides a thread-safe dispatch trie over topic segments. It
// stores subscribers keyed by topic filter, supporting the MQTT wildcards
// + (single level) and # (multi level, terminal only), and resolves a literal
// published topic to the set of matching subscribers. Each subscriber is
// delivered to exactly once per publish, even when several of its matching
// filters converge on the same topic.
package topic

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Separator splits a topic string into segments.
const Separator = "/"

// Wildcard segments understood by the trie.
const (
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"
)

// Filter validation errors, reported at subscribe time.
var (
	ErrEmptyFilter      = errors.New("topic filter is empty")
	ErrWildcardPosition = errors.New("multi-level wildcard must be the last segment")
	ErrWildcardSegment  = errors.New("wildcard must occupy an entire segment")
)

// Subscriber receives messages dispatched by the trie. Subscribers are
// compared by identity, so registering the same Subscriber twice under one
// filter keeps a single entry.
type Subscriber interface {
	HandleMessage(topic string, payload []byte)
}

// node is one trie level keyed by topic segment. Literal children live in
// children; the single-level wildcard has its own child pointer; the
// multi-level wildcard terminates the filter here, so it holds a subscriber
// set rather than a child node.
type node struct {
	children map[string]*node
	plus     *node
	hash     map[Subscriber]struct{}
	subs     map[Subscriber]struct{}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) empty() bool {
	return len(n.children) == 0 && n.plus == nil && len(n.hash) == 0 && len(n.subs) == 0
}

// Store is a thread-safe dispatch trie mapping topic filters to subscribers.
type Store struct {
	root *node
	mu   sync.RWMutex
}

// NewStore creates an empty dispatch trie.
func NewStore() *Store {
	return &Store{root: newNode()}
}

// ValidateFilter checks that filter is a well-formed subscription filter: it
// is non-empty, wildcards occupy whole segments, and the multi-level wildcard
// appears only as the final segment.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	segments := strings.Split(filter, Separator)
	for i, seg := range segments {
		switch seg {
		case MultiLevelWildcard:
			if i != len(segments)-1 {
				return fmt.Errorf("%w: %q", ErrWildcardPosition, filter)
			}
		case SingleLevelWildcard:
		default:
			if strings.ContainsAny(seg, SingleLevelWildcard+MultiLevelWildcard) {
				return fmt.Errorf("%w: %q", ErrWildcardSegment, filter)
			}
		}
	}
	return nil
}

// Subscribe registers sub under filter, creating intermediate trie nodes as
// needed. Registering the same subscriber under the same filter again is
// idempotent. A malformed filter is rejected here, never at publish time.
func (s *Store) Subscribe(filter string, sub Subscriber) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.root
	for _, seg := range strings.Split(filter, Separator) {
		switch seg {
		case MultiLevelWildcard:
			// Validation guarantees this is the last segment.
			if n.hash == nil {
				n.hash = make(map[Subscriber]struct{})
			}
			n.hash[sub] = struct{}{}
			return nil
		case SingleLevelWildcard:
			if n.plus == nil {
				n.plus = newNode()
			}
			n = n.plus
		default:
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
	}

	if n.subs == nil {
		n.subs = make(map[Subscriber]struct{})
	}
	n.subs[sub] = struct{}{}
	return nil
}

// Unsubscribe removes sub from the node addressed by filter. Nodes left with
// no subscribers and no children are pruned on the way back up. Removing an
// unknown registration is a no-op.
func (s *Store) Unsubscribe(filter string, sub Subscriber) {
	if ValidateFilter(filter) != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remove(s.root, strings.Split(filter, Separator), sub)
}

func remove(n *node, segments []string, sub Subscriber) {
	if len(segments) == 0 {
		delete(n.subs, sub)
		if len(n.subs) == 0 {
			n.subs = nil
		}
		return
	}

	seg, rest := segments[0], segments[1:]
	switch seg {
	case MultiLevelWildcard:
		delete(n.hash, sub)
		if len(n.hash) == 0 {
			n.hash = nil
		}
	case SingleLevelWildcard:
		if n.plus == nil {
			return
		}
		remove(n.plus, rest, sub)
		if n.plus.empty() {
			n.plus = nil
		}
	default:
		child, ok := n.children[seg]
		if !ok {
			return
		}
		remove(child, rest, sub)
		if child.empty() {
			delete(n.children, seg)
		}
	}
}

// Match resolves a literal topic to the set of subscribers reachable through
// at least one matching filter. The returned slice is a snapshot; each
// subscriber appears at most once. An unmatched topic yields an empty result.
func (s *Store) Match(topic string) []Subscriber {
	if topic == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[Subscriber]struct{})
	walk(s.root, strings.Split(topic, Separator), found)

	matched := make([]Subscriber, 0, len(found))
	for sub := range found {
		matched = append(matched, sub)
	}
	return matched
}

func walk(n *node, segments []string, found map[Subscriber]struct{}) {
	if len(segments) == 0 {
		for sub := range n.subs {
			found[sub] = struct{}{}
		}
		return
	}

	// The multi-level wildcard consumes the current segment and everything
	// after it, so any # registered at this level matches now.
	for sub := range n.hash {
		found[sub] = struct{}{}
	}

	seg, rest := segments[0], segments[1:]
	if child, ok := n.children[seg]; ok {
		walk(child, rest, found)
	}
	if n.plus != nil {
		walk(n.plus, rest, found)
	}
}

// Publish dispatches payload to every subscriber matching the literal topic.
// Subscribers are resolved under the read lock but invoked outside it, so a
// handler may subscribe or unsubscribe without deadlocking.
func (s *Store) Publish(topic string, payload []byte) {
	for _, sub := range s.Match(topic) {
		sub.HandleMessage(topic, payload)
	}
}

// Close discards all trie state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = newNode()
}
