// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/automaton/pkg/logging"
	"github.com/AleutianAI/automaton/services/lifecycle"
	"github.com/AleutianAI/automaton/services/lifecycle/config"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// rootFlags are shared across subcommands.
type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "automaton",
		Short:         "Run and inspect the agent lifecycle core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config.yaml (default: built-in defaults)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newVerifyClockCmd(flags))
	cmd.AddCommand(newBequestsCmd(flags))
	return cmd
}

// openService loads config and wires the service over the store.
// The returned cleanup closes the store and logger.
func openService(flags *rootFlags, serviceName string) (*lifecycle.Service, config.Config, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, config.Config{}, nil, err
	}

	level := logging.LevelInfo
	if flags.debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: serviceName,
	})

	db, err := store.Open(store.Config{
		Path:       cfg.StoreDir(),
		SyncWrites: true,
		Logger:     logger.Slog(),
	})
	if err != nil {
		logger.Close()
		return nil, config.Config{}, nil, fmt.Errorf("open store: %w", err)
	}

	svc, err := lifecycle.New(cfg, db, lifecycle.WithLogger(logger.Slog()))
	if err != nil {
		db.Close()
		logger.Close()
		return nil, config.Config{}, nil, err
	}

	cleanup := func() {
		_ = db.Close()
		_ = logger.Close()
	}
	return svc, cfg, cleanup, nil
}
