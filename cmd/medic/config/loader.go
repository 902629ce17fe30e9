// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is the loaded singleton instance.
	Global MedicConfig
	once   sync.Once

	validate = validator.New()
)

// Load ensures the config is loaded into Global, creating the default
// file at ~/.aleutian/medic.yaml on first run.
func Load() error {
	var err error
	once.Do(func() {
		var path string
		path, err = DefaultPath()
		if err != nil {
			return
		}
		Global, err = LoadFrom(path)
	})
	return err
}

// DefaultPath returns the canonical config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "medic.yaml"), nil
}

// LoadFrom reads, parses, and validates the config at path, creating a
// default file first when none exists.
func LoadFrom(path string) (MedicConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return MedicConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return MedicConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	// Unknown or missing keys fall back to defaults, so an old config
	// file survives new fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MedicConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return MedicConfig{}, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteDefault writes the default config to path, overwriting any
// existing file. Used by `medic config init`.
func WriteDefault(path string) error {
	return createDefault(path)
}
