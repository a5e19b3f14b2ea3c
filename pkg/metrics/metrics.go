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

// package metrics provides Prometheus metrics for the multiplexer.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BrokerSubscribesTotal counts broker-level subscribe calls actually
	// issued, i.e. deduplicated 0->1 transitions plus reconnect replays.
	BrokerSubscribesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_broker_subscribes_total",
		Help: "The total number of subscribe calls sent to the broker.",
	})

	// BrokerUnsubscribesTotal counts broker-level unsubscribe calls issued.
	BrokerUnsubscribesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_broker_unsubscribes_total",
		Help: "The total number of unsubscribe calls sent to the broker.",
	})

	// MessagesDispatchedTotal counts subscriber callback invocations.
	MessagesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_messages_dispatched_total",
		Help: "The total number of inbound messages dispatched to local subscribers.",
	})

	// PublishesTotal counts outbound publishes forwarded to the broker.
	PublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_publishes_total",
		Help: "The total number of messages published through the multiplexer.",
	})

	// ReconnectsTotal counts completed resubscription rounds, i.e. times
	// the adapter reached the ready state.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_reconnects_total",
		Help: "The total number of times the adapter connected and replayed its subscriptions.",
	})

	// DispatchPanicsTotal counts panics recovered from subscriber callbacks.
	DispatchPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttmux_dispatch_panics_total",
		Help: "The total number of panics recovered from subscriber callbacks.",
	})
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
