package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and node status",
		Long:  "Displays job counts by status, queue wait statistics, and per-node load. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nebula.yaml", "path to config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	for {
		status, err := scheduler.Status(gormDB, cfg.Scheduler.WaitWindow)
		if err != nil {
			return err
		}

		if watch && isTTY {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}

		fmt.Fprint(out, formatQueueStatus(status))

		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

func formatQueueStatus(status *scheduler.QueueStatus) string {
	var b strings.Builder

	b.WriteString("Queue\n")
	statuses := make([]string, 0, len(status.Counts))
	for s := range status.Counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "  %-10s %d\n", s, status.Counts[s])
	}
	if len(statuses) == 0 {
		b.WriteString("  (empty)\n")
	}
	fmt.Fprintf(&b, "  oldest queued: %s  avg wait: %s\n",
		formatSecs(status.OldestQueuedSecs), formatSecs(status.AvgWaitSecs))

	b.WriteString("\nNodes\n")
	if len(status.Nodes) == 0 {
		b.WriteString("  (none registered)\n")
	}
	for _, n := range status.Nodes {
		state := "enabled"
		if !n.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  %-12s %-8s jobs=%d  vram free=%d MB  util=%.0f%%\n",
			n.NodeID, state, n.RunningJobs, n.FreeVramMb, n.UtilizationPct)
	}

	if len(status.Degraded) > 0 {
		fmt.Fprintf(&b, "\nDegraded sections: %s\n", strings.Join(status.Degraded, ", "))
	}
	return b.String()
}

func formatSecs(secs float64) string {
	if secs <= 0 {
		return "-"
	}
	return (time.Duration(secs) * time.Second).String()
}
