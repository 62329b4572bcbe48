package main

import (
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/vram"
	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Release stale VRAM locks",
		Long:  "Runs one sweep of the lock janitor: releases locks older than the TTL or whose job is no longer running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nebula.yaml", "path to config file")
	return cmd
}

func runCleanup(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	maxAge := time.Duration(cfg.Vram.LockTTLMinutes) * time.Minute
	reclaimed, err := vram.CleanupStaleLocks(gormDB, maxAge)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Released %d stale VRAM locks\n", reclaimed)
	return nil
}
