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

// Package naming maps between local topic names and the topic names used on
// the wire. The multiplexer treats translation as an injected strategy so a
// deployment can namespace its traffic without the core knowing about it.
package naming

import "strings"

// Translator converts between local and wire-level topic names. Subscribe
// filters and publish topics may be translated differently, and inbound wire
// topics are mapped back to local form before dispatch.
type Translator interface {
	// WireSubscribeTopic translates a local subscription filter to the
	// filter sent to the broker.
	WireSubscribeTopic(localFilter string) string
	// WirePublishTopic translates a local publish topic to the topic sent
	// to the broker.
	WirePublishTopic(localTopic string) string
	// LocalTopic translates an inbound wire topic back to local form. It
	// reports false when the wire topic is not addressed to this namespace.
	LocalTopic(wireTopic string) (string, bool)
}

// Identity passes topic names through untranslated.
type Identity struct{}

func (Identity) WireSubscribeTopic(localFilter string) string { return localFilter }
func (Identity) WirePublishTopic(localTopic string) string    { return localTopic }
func (Identity) LocalTopic(wireTopic string) (string, bool)   { return wireTopic, true }

// Prefix namespaces all wire traffic under a fixed topic prefix. The prefix
// is prepended outbound and stripped inbound; inbound topics outside the
// prefix are reported as not local.
type Prefix struct {
	Prefix string
}

// NewPrefix creates a Prefix translator. A trailing separator on prefix is
// tolerated and removed.
func NewPrefix(prefix string) Prefix {
	return Prefix{Prefix: strings.TrimSuffix(prefix, "/")}
}

func (p Prefix) WireSubscribeTopic(localFilter string) string {
	return p.Prefix + "/" + localFilter
}

func (p Prefix) WirePublishTopic(localTopic string) string {
	return p.Prefix + "/" + localTopic
}

func (p Prefix) LocalTopic(wireTopic string) (string, bool) {
	local, ok := strings.CutPrefix(wireTopic, p.Prefix+"/")
	if !ok || local == "" {
		return "", false
	}
	return local, true
}
