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

package transport

import (
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PahoOptions configures the Paho-backed transport.
type PahoOptions struct {
	// BrokerURL is the broker address, e.g. tcp://localhost:1883 or
	// ws://localhost:8083/mqtt.
	BrokerURL string
	// ClientID identifies this connection to the broker.
	ClientID string
	Username string
	Password string
	// KeepAlive defaults to 30s when zero.
	KeepAlive time.Duration
	// ConnectTimeout defaults to 10s when zero.
	ConnectTimeout time.Duration
}

// PahoFactory dials broker connections using the Eclipse Paho MQTT client.
// Paho's own auto-reconnect is disabled: connection lifecycle belongs to the
// multiplexer, which dials a fresh handle when it wants to reconnect.
type PahoFactory struct {
	opts PahoOptions
}

// NewPahoFactory creates a factory for the given options.
func NewPahoFactory(opts PahoOptions) *PahoFactory {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &PahoFactory{opts: opts}
}

// Dial starts a connection attempt and returns the handle immediately. The
// outcome is reported through events: OnConnect on success, OnError on
// failure.
func (f *PahoFactory) Dial(events Events) (Handle, error) {
	co := mqtt.NewClientOptions().
		AddBroker(f.opts.BrokerURL).
		SetClientID(f.opts.ClientID).
		SetKeepAlive(f.opts.KeepAlive).
		SetConnectTimeout(f.opts.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false)

	if f.opts.Username != "" {
		co.SetUsername(f.opts.Username)
		co.SetPassword(f.opts.Password)
	}

	co.SetOnConnectHandler(func(mqtt.Client) {
		if events.OnConnect != nil {
			events.OnConnect()
		}
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if events.OnError != nil {
			events.OnError(err)
		}
	})
	co.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if events.OnMessage != nil {
			events.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	client := mqtt.NewClient(co)
	h := &pahoHandle{client: client, events: events}

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil && events.OnError != nil {
			events.OnError(err)
		}
	}()
	return h, nil
}

// pahoHandle adapts a paho client to the Handle interface. Acknowledgments
// are driven by waiting on paho tokens off the caller's goroutine.
type pahoHandle struct {
	client mqtt.Client
	events Events
}

func (h *pahoHandle) Subscribe(topic string, qos byte, ack func(error)) {
	// A nil message handler routes matching messages to the default
	// publish handler installed at dial time.
	waitAck(h.client.Subscribe(topic, qos, nil), ack)
}

func (h *pahoHandle) Unsubscribe(topic string, ack func(error)) {
	waitAck(h.client.Unsubscribe(topic), ack)
}

func (h *pahoHandle) Publish(topic string, payload []byte, qos byte, retain bool, ack func(error)) {
	waitAck(h.client.Publish(topic, qos, retain, payload), ack)
}

func (h *pahoHandle) End() {
	go func() {
		h.client.Disconnect(250)
		log.Printf("paho transport disconnected")
		if h.events.OnClose != nil {
			h.events.OnClose()
		}
	}()
}

func waitAck(token mqtt.Token, ack func(error)) {
	go func() {
		token.Wait()
		if ack != nil {
			ack(token.Error())
		}
	}()
}
