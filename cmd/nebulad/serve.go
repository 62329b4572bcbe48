package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/api"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/events"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/janitor"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler API server",
		Long:  "Launches the HTTP API, the training event bus, and the background lock janitor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nebula.yaml", "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	bus := events.NewBus(gormDB)
	defer bus.Flush()

	lockTTL := time.Duration(cfg.Vram.LockTTLMinutes) * time.Minute
	jan, err := janitor.New(gormDB, cfg.Vram.CleanupCron, lockTTL)
	if err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	go jan.Run(ctx)

	return api.Start(ctx, api.StartOpts{
		DB:   gormDB,
		Bus:  bus,
		Cfg:  cfg,
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
}
