// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

// NavigatorConfig is the on-disk configuration for the navigator service.
type NavigatorConfig struct {
	// Server: HTTP listener settings
	Server ServerConfig `yaml:"server"`

	// Database: relational store location
	Database DatabaseConfig `yaml:"database"`

	// Logging: level and optional file output
	Logging LoggingConfig `yaml:"logging"`

	// Observability: OTLP trace export
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Port string `yaml:"port"` // e.g. "12310"
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // e.g. ~/.navigator/navigator.db
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"` // e.g. "otel-collector:4317"
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() NavigatorConfig {
	return NavigatorConfig{
		Server:   ServerConfig{Port: "12310"},
		Database: DatabaseConfig{Path: "~/.navigator/navigator.db"},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Observability: ObservabilityConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
		},
	}
}
