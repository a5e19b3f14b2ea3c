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

package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	tr := Identity{}

	assert.Equal(t, "a/+/c", tr.WireSubscribeTopic("a/+/c"))
	assert.Equal(t, "a/b/c", tr.WirePublishTopic("a/b/c"))

	local, ok := tr.LocalTopic("a/b/c")
	assert.True(t, ok)
	assert.Equal(t, "a/b/c", local)
}

func TestPrefixRoundTrip(t *testing.T) {
	tr := NewPrefix("tenants/acme")

	assert.Equal(t, "tenants/acme/sensors/+/temp", tr.WireSubscribeTopic("sensors/+/temp"))
	assert.Equal(t, "tenants/acme/sensors/1/temp", tr.WirePublishTopic("sensors/1/temp"))

	local, ok := tr.LocalTopic("tenants/acme/sensors/1/temp")
	assert.True(t, ok)
	assert.Equal(t, "sensors/1/temp", local)
}

func TestPrefixRejectsForeignTopics(t *testing.T) {
	tr := NewPrefix("tenants/acme/")

	_, ok := tr.LocalTopic("tenants/other/sensors/1/temp")
	assert.False(t, ok)

	_, ok = tr.LocalTopic("tenants/acme/")
	assert.False(t, ok)
}
