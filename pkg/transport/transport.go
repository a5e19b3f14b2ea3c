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

// Package transport defines the broker-client collaborator the multiplexer
// drives. A Factory dials one connection handle at a time; the handle carries
// the broker-level subscribe/unsubscribe/publish operations with asynchronous
// acknowledgments, and lifecycle events are delivered through the Events
// callback set supplied at dial time. The production implementation wraps the
// Eclipse Paho MQTT client; tests substitute in-memory fakes.
package transport

// MQTT quality-of-service levels.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2
)

// Events is the set of lifecycle callbacks a Handle reports through. Any
// field may be nil. Callbacks are invoked from the transport's own event
// goroutines; receivers must not block and must not call back into the
// handle synchronously.
type Events struct {
	// OnConnect fires when the connection is established.
	OnConnect func()
	// OnMessage fires for every inbound publish, with the wire-level topic.
	OnMessage func(topic string, payload []byte)
	// OnError fires when the connection fails, at dial time or later.
	OnError func(err error)
	// OnClose fires after End has completed.
	OnClose func()
}

// Handle is one live broker connection. Acknowledgment callbacks are invoked
// asynchronously once the broker confirms the operation, with a nil error on
// success.
type Handle interface {
	// Subscribe issues a broker-level subscribe for a wire topic filter.
	Subscribe(topic string, qos byte, ack func(error))
	// Unsubscribe issues a broker-level unsubscribe for a wire topic filter.
	Unsubscribe(topic string, ack func(error))
	// Publish sends a message to a literal wire topic.
	Publish(topic string, payload []byte, qos byte, retain bool, ack func(error))
	// End shuts the connection down and eventually fires Events.OnClose.
	End()
}

// Factory produces connection handles. Dial starts a connection attempt and
// returns the handle immediately; success or failure is reported through the
// events. The caller owns at most one handle at a time.
type Factory interface {
	Dial(events Events) (Handle, error)
}
