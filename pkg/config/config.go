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

// Package config provides configuration management for the multiplexer:
// broker connection settings, topic namespace, delivery defaults and the
// demo binary's subscription list.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

// BrokerConfig describes how to reach the MQTT broker.
type BrokerConfig struct {
	// URL is the broker address, e.g. tcp://localhost:1883.
	URL      string `yaml:"url" json:"url"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// KeepAliveSeconds defaults to 30.
	KeepAliveSeconds int `yaml:"keep_alive_seconds" json:"keep_alive_seconds"`
	// ConnectTimeoutSeconds defaults to 10.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" json:"connect_timeout_seconds"`
}

// MuxConfig describes the multiplexer behavior.
type MuxConfig struct {
	// TopicPrefix, when set, namespaces all wire traffic under the prefix.
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	// QueueSize is the dispatch queue buffer size.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// Topics are the local filters the demo binary subscribes to.
	Topics []string `yaml:"topics" json:"topics"`
	// MetricsPort is the Prometheus listen address, e.g. ":8082".
	MetricsPort string `yaml:"metrics_port" json:"metrics_port"`
	// ReconnectDelaySeconds is the demo binary's redial backoff, default 5.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds" json:"reconnect_delay_seconds"`
}

// Config holds the complete configuration.
type Config struct {
	Broker BrokerConfig `yaml:"broker" json:"broker"`
	Mux    MuxConfig    `yaml:"mux" json:"mux"`
}

// DefaultConfig returns a default configuration. The client ID is randomized
// so two default-configured processes do not evict each other's sessions.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:                   "tcp://localhost:1883",
			ClientID:              "mqttmux-" + uuid.NewString()[:8],
			KeepAliveSeconds:      30,
			ConnectTimeoutSeconds: 10,
		},
		Mux: MuxConfig{
			QueueSize:             64,
			Topics:                []string{"#"},
			MetricsPort:           ":8082",
			ReconnectDelaySeconds: 5,
		},
	}
}

// KeepAlive returns the keep-alive interval as a duration.
func (c *BrokerConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// ConnectTimeout returns the connect timeout as a duration.
func (c *BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the demo redial backoff as a duration.
func (c *MuxConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// LoadConfig loads configuration from a file. Missing fields fall back to
// the defaults.
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return default config
	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

// SaveConfig saves configuration to a file.
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(configPath, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	log.Printf("[INFO] Configuration saved to %s", configPath)
	return nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Broker.URL == "" {
		return fmt.Errorf("broker url cannot be empty")
	}

	if config.Broker.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}

	if config.Broker.KeepAliveSeconds < 0 {
		return fmt.Errorf("keep_alive_seconds cannot be negative")
	}

	seen := make(map[string]bool)
	for i, filter := range config.Mux.Topics {
		if filter == "" {
			return fmt.Errorf("topic %d: filter cannot be empty", i)
		}
		if seen[filter] {
			return fmt.Errorf("duplicate topic filter: %s", filter)
		}
		seen[filter] = true
	}

	return nil
}
