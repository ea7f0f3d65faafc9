// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/automaton/services/lifecycle"
	"github.com/AleutianAI/automaton/services/lifecycle/heartbeat"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var name string
	var genesisPrompt string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the heartbeat daemon and observability server",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, cleanup, err := openService(flags, "lifecycle")
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.EnsureBirth(ctx, name, genesisPrompt); err != nil {
				return err
			}

			daemon := heartbeat.New(
				svc.HeartbeatTasks(cfg.Heartbeat.Interval),
				heartbeat.Config{
					SheddingInterval:  cfg.Heartbeat.SheddingInterval,
					CaretakerInterval: cfg.Heartbeat.CaretakerInterval,
				},
			)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error { return daemon.Run(ctx) })
			group.Go(func() error { return svc.WatchSoul(ctx) })

			if cfg.HTTP.Addr != "" {
				server := observabilityServer(cfg.HTTP.Addr, svc, flags.debug)
				group.Go(func() error {
					if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				group.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
			}

			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Agent name for first birth")
	cmd.Flags().StringVar(&genesisPrompt, "genesis-prompt", "", "Genesis prompt for first birth")
	return cmd
}

// observabilityServer builds the read-only HTTP surface.
func observabilityServer(addr string, svc *lifecycle.Service, debug bool) *http.Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}

	handlers := lifecycle.NewHandlers(svc)
	lifecycle.RegisterRoot(router, handlers)
	v1 := router.Group("/v1")
	lifecycle.RegisterRoutes(v1, handlers)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
