// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the lifecycle daemon configuration.
//
// Configuration comes from an optional YAML file layered over defaults.
// The agent home directory anchors every path the core touches: the
// identity document, creator notes, the will, the store, and logs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// AgentHome is the agent's home directory. Supports ~ expansion.
	AgentHome string `yaml:"agent_home" validate:"required"`

	// Deployment is the deployment mode: "local" (cradle) or "server".
	Deployment string `yaml:"deployment" validate:"oneof=local server"`

	// Heartbeat configures the daemon ticker.
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Lucidity configures the terminal lucidity window.
	Lucidity LucidityConfig `yaml:"lucidity"`

	// HTTP configures the observability server.
	HTTP HTTPConfig `yaml:"http"`

	// LogDir overrides the log directory. Empty uses <agent_home>/logs.
	LogDir string `yaml:"log_dir"`
}

// HeartbeatConfig configures the heartbeat daemon.
type HeartbeatConfig struct {
	// Interval is the base heartbeat interval before multipliers.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// SheddingInterval is the wall-clock spacing of shedding ticks.
	SheddingInterval time.Duration `yaml:"shedding_interval" validate:"gt=0"`

	// CaretakerInterval is the spacing of caretaker reports.
	CaretakerInterval time.Duration `yaml:"caretaker_interval" validate:"gt=0"`
}

// LucidityConfig configures terminal lucidity.
type LucidityConfig struct {
	// Turns is the size of the lucidity window, in agent turns.
	Turns int `yaml:"turns" validate:"gte=1"`
}

// HTTPConfig configures the observability server.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		AgentHome:  "~/.automaton",
		Deployment: "local",
		Heartbeat: HeartbeatConfig{
			Interval:          5 * time.Minute,
			SheddingInterval:  24 * time.Hour,
			CaretakerInterval: 6 * time.Hour,
		},
		Lucidity: LucidityConfig{Turns: 5},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:7799"},
	}
}

// Load reads the configuration file at path layered over defaults.
//
// Description:
//
//	Missing file is not an error: defaults apply. After decoding, the
//	agent home is ~-expanded and the whole config is validated.
//
// Inputs:
//
//	path - Config file path. Empty uses defaults only.
//
// Outputs:
//
//	Config - The validated configuration.
//	error  - Non-nil on decode or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.AgentHome = expandHome(cfg.AgentHome)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AgentHome, "logs")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// SoulPath returns the identity document path.
func (c Config) SoulPath() string {
	return filepath.Join(c.AgentHome, "SOUL.md")
}

// CreatorNotesPath returns the creator notes path.
func (c Config) CreatorNotesPath() string {
	return filepath.Join(c.AgentHome, "CREATOR-NOTES.md")
}

// WillPath returns the will document path.
func (c Config) WillPath() string {
	return filepath.Join(c.AgentHome, "WILL.md")
}

// StoreDir returns the persistent store directory.
func (c Config) StoreDir() string {
	return filepath.Join(c.AgentHome, "store")
}
