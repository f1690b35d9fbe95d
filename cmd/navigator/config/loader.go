// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global NavigatorConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable. The file is
// created with defaults on first run; environment variables override the
// file afterwards.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".navigator", "navigator.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse the config file: %w", err)
	}
	applyEnvOverrides(&Global)
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets container deployments steer the service without
// touching the config file.
func applyEnvOverrides(cfg *NavigatorConfig) {
	if port := os.Getenv("NAVIGATOR_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if path := os.Getenv("NAVIGATOR_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if level := os.Getenv("NAVIGATOR_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Observability.Enabled = true
		cfg.Observability.OTLPEndpoint = endpoint
	}
}
