package main

import (
	"strings"
	"testing"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/scheduler"
)

func TestFormatQueueStatus(t *testing.T) {
	status := &scheduler.QueueStatus{
		Counts:           map[string]int64{"queued": 3, "running": 1},
		OldestQueuedSecs: 90,
		AvgWaitSecs:      30,
		Nodes: []scheduler.NodeStatus{
			{NodeID: "gpu-1", Name: "gpu-1", Enabled: true, RunningJobs: 1, FreeVramMb: 16000, UtilizationPct: 33.3},
			{NodeID: "gpu-2", Name: "gpu-2", Enabled: false},
		},
	}

	out := formatQueueStatus(status)

	for _, want := range []string{"queued", "running", "gpu-1", "gpu-2", "disabled", "1m30s", "16000 MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted status missing %q:\n%s", want, out)
		}
	}
}

func TestFormatQueueStatus_Empty(t *testing.T) {
	out := formatQueueStatus(&scheduler.QueueStatus{Counts: map[string]int64{}})
	if !strings.Contains(out, "(empty)") {
		t.Errorf("empty queue should render placeholder, got:\n%s", out)
	}
	if !strings.Contains(out, "(none registered)") {
		t.Errorf("no nodes should render placeholder, got:\n%s", out)
	}
	if !strings.Contains(out, "oldest queued: -") {
		t.Errorf("zero wait should render dash, got:\n%s", out)
	}
}

func TestFormatQueueStatus_Degraded(t *testing.T) {
	out := formatQueueStatus(&scheduler.QueueStatus{
		Counts:   map[string]int64{},
		Degraded: []string{"counts", "nodes"},
	})
	if !strings.Contains(out, "Degraded sections: counts, nodes") {
		t.Errorf("degraded sections missing:\n%s", out)
	}
}

func TestFormatSecs(t *testing.T) {
	cases := []struct {
		secs float64
		want string
	}{
		{0, "-"},
		{-5, "-"},
		{45, "45s"},
		{3600, "1h0m0s"},
	}
	for _, tc := range cases {
		if got := formatSecs(tc.secs); got != tc.want {
			t.Errorf("formatSecs(%v) = %q, want %q", tc.secs, got, tc.want)
		}
	}
}
