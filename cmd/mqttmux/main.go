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

// package main runs the multiplexer demo: it connects to a broker, fans the
// configured topic filters out to a logging subscriber and keeps redialing
// after connection errors.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/mqttmux/pkg/config"
	"github.com/turtacn/mqttmux/pkg/metrics"
	"github.com/turtacn/mqttmux/pkg/mux"
	"github.com/turtacn/mqttmux/pkg/naming"
	"github.com/turtacn/mqttmux/pkg/transport"
)

// logSubscriber prints every message it receives.
type logSubscriber struct{}

func (logSubscriber) HandleMessage(topic string, payload []byte) {
	log.Printf("message on %s: %s", topic, payload)
}

func main() {
	configPath := flag.String("config", "", "path to a .yaml or .json config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting mqttmux (broker %s, client %s)", cfg.Broker.URL, cfg.Broker.ClientID)

	factory := transport.NewPahoFactory(transport.PahoOptions{
		BrokerURL:      cfg.Broker.URL,
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      cfg.Broker.KeepAlive(),
		ConnectTimeout: cfg.Broker.ConnectTimeout(),
	})

	var translator naming.Translator = naming.Identity{}
	if cfg.Mux.TopicPrefix != "" {
		translator = naming.NewPrefix(cfg.Mux.TopicPrefix)
		log.Printf("Namespacing wire traffic under %s", cfg.Mux.TopicPrefix)
	}

	adapter, err := mux.NewAdapter(mux.Options{
		Factory:    factory,
		Translator: translator,
		QueueSize:  cfg.Mux.QueueSize,
	})
	if err != nil {
		log.Fatalf("Failed to create adapter: %v", err)
	}

	adapter.OnReady(func() {
		log.Printf("Connected and resubscribed; %d filter(s) live", len(cfg.Mux.Topics))
	})

	// The adapter never redials on its own; the demo drives reconnection
	// with a fixed backoff.
	redial := make(chan struct{}, 1)
	adapter.OnError(func(err error) {
		log.Printf("Transport error: %v", err)
		select {
		case redial <- struct{}{}:
		default:
		}
	})
	go func() {
		for range redial {
			time.Sleep(cfg.Mux.ReconnectDelay())
			log.Println("Reconnecting...")
			if err := adapter.Connect(); err != nil {
				log.Printf("Reconnect failed: %v", err)
				select {
				case redial <- struct{}{}:
				default:
				}
			}
		}
	}()

	for _, filter := range cfg.Mux.Topics {
		filter := filter
		err := adapter.Subscribe(filter, logSubscriber{}, func(err error) {
			if err != nil {
				log.Printf("Subscribe %s failed: %v", filter, err)
				return
			}
			log.Printf("Subscribed to %s", filter)
		})
		if err != nil {
			log.Fatalf("Invalid topic filter %q: %v", filter, err)
		}
	}

	if err := adapter.Connect(); err != nil {
		log.Fatalf("Initial connect failed: %v", err)
	}

	go metrics.Serve(cfg.Mux.MetricsPort)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	log.Println("Shutdown signal received. Closing adapter...")
	closed := make(chan struct{})
	adapter.Close(func() { close(closed) })
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		log.Println("Close timed out")
	}
}
