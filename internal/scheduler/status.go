package scheduler

import (
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/gorm"
)

// DefaultWaitWindow is how many recent completed jobs feed the average-wait
// statistic.
const DefaultWaitWindow = 50

// NodeStatus summarizes one node's load for the queue status report.
type NodeStatus struct {
	NodeID         string  `json:"node_id"`
	Name           string  `json:"name"`
	Enabled        bool    `json:"enabled"`
	RunningJobs    int64   `json:"running_jobs"`
	UtilizationPct float64 `json:"utilization_pct"`
	FreeVramMb     int     `json:"free_vram_mb"`
}

// QueueStatus aggregates queue health. Each section is computed
// independently; failures land in Degraded rather than aborting the report.
type QueueStatus struct {
	Counts           map[string]int64 `json:"counts"`
	OldestQueuedSecs float64          `json:"oldest_queued_secs"`
	AvgWaitSecs      float64          `json:"avg_wait_secs"`
	Nodes            []NodeStatus     `json:"nodes"`
	Degraded         []string         `json:"degraded,omitempty"`
}

// Status returns counts by job status, the age of the oldest queued job, the
// average wait over a trailing window of completed jobs, and per-node load.
// A failure computing one statistic does not prevent returning the others.
func Status(db *gorm.DB, waitWindow int) (*QueueStatus, error) {
	if waitWindow <= 0 {
		waitWindow = DefaultWaitWindow
	}
	st := &QueueStatus{Counts: make(map[string]int64)}

	// Counts by status.
	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := db.Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		st.Degraded = append(st.Degraded, fmt.Sprintf("counts: %v", err))
	} else {
		for _, r := range rows {
			st.Counts[r.Status] = r.Count
		}
	}

	// Age of the oldest still-queued job.
	var oldest models.Job
	err := db.Where("status = ?", models.JobQueued).
		Order("created_at ASC").
		First(&oldest).Error
	switch {
	case err == nil:
		st.OldestQueuedSecs = time.Since(oldest.CreatedAt).Seconds()
	case err == gorm.ErrRecordNotFound:
		// empty queue
	default:
		st.Degraded = append(st.Degraded, fmt.Sprintf("oldest queued: %v", err))
	}

	// Average wait (created → started) over the trailing window.
	var recent []models.Job
	if err := db.Where("status = ? AND started_at IS NOT NULL", models.JobCompleted).
		Order("completed_at DESC").
		Limit(waitWindow).
		Find(&recent).Error; err != nil {
		st.Degraded = append(st.Degraded, fmt.Sprintf("avg wait: %v", err))
	} else if len(recent) > 0 {
		var total time.Duration
		for _, j := range recent {
			total += j.StartedAt.Sub(j.CreatedAt)
		}
		st.AvgWaitSecs = (total / time.Duration(len(recent))).Seconds()
	}

	// Per-node running counts and utilization from the latest snapshot.
	nodes, err := nodeStatuses(db)
	if err != nil {
		st.Degraded = append(st.Degraded, fmt.Sprintf("nodes: %v", err))
	} else {
		st.Nodes = nodes
	}

	return st, nil
}

func nodeStatuses(db *gorm.DB) ([]NodeStatus, error) {
	var nodes []models.Node
	if err := db.Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}

	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		ns := NodeStatus{NodeID: n.ID, Name: n.Name, Enabled: n.Enabled}

		db.Model(&models.Job{}).
			Where("node_id = ? AND status = ?", n.ID, models.JobRunning).
			Count(&ns.RunningJobs)

		var snap models.GPUSnapshot
		err := db.Where("node_id = ?", n.ID).
			Order("created_at DESC, id DESC").
			First(&snap).Error
		if err == nil && snap.TotalVramMb > 0 {
			ns.UtilizationPct = float64(snap.UsedVramMb) / float64(snap.TotalVramMb) * 100
			ns.FreeVramMb = snap.FreeVramMb
		}

		out = append(out, ns)
	}
	return out, nil
}
