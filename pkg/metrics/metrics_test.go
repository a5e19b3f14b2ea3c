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

package metrics

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	assert.NotNil(t, BrokerSubscribesTotal)
	assert.NotNil(t, BrokerUnsubscribesTotal)
	assert.NotNil(t, MessagesDispatchedTotal)
	assert.NotNil(t, PublishesTotal)
	assert.NotNil(t, ReconnectsTotal)
	assert.NotNil(t, DispatchPanicsTotal)
}

func TestServe(t *testing.T) {
	// Find an available port and serve metrics from it so the test can shut
	// the server down by closing the listener.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	go func() {
		server := &http.Server{}
		http.DefaultServeMux = http.NewServeMux() // Reset handler to avoid test pollution
		http.Handle("/metrics", promhttp.Handler())
		_ = server.Serve(listener)
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Trigger a few metrics so they appear in the output
	BrokerSubscribesTotal.Inc()
	MessagesDispatchedTotal.Inc()
	ReconnectsTotal.Inc()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "mqttmux_broker_subscribes_total")
	assert.Contains(t, string(body), "mqttmux_messages_dispatched_total")
	assert.Contains(t, string(body), "mqttmux_reconnects_total")

	require.NoError(t, listener.Close())
}
