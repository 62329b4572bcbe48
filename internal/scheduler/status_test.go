package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
)

func TestStatus_Empty(t *testing.T) {
	db := openTestDB(t)
	st, err := Status(db, 0)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Counts) != 0 {
		t.Errorf("counts = %v, want empty", st.Counts)
	}
	if st.OldestQueuedSecs != 0 {
		t.Errorf("oldest queued = %f, want 0", st.OldestQueuedSecs)
	}
	if len(st.Degraded) != 0 {
		t.Errorf("degraded = %v, want none", st.Degraded)
	}
}

func TestStatus_CountsAndNodes(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", true, 8000)

	for i := 0; i < 3; i++ {
		if _, err := Enqueue(db, EnqueueOpts{JobType: "generation", EstimatedVramMb: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	claim, err := Claim(db, "node-a", ClaimOpts{})
	if err != nil || claim == nil {
		t.Fatalf("claim: %v %v", claim, err)
	}

	st, err := Status(db, 0)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Counts[models.JobQueued] != 2 {
		t.Errorf("queued = %d, want 2", st.Counts[models.JobQueued])
	}
	if st.Counts[models.JobRunning] != 1 {
		t.Errorf("running = %d, want 1", st.Counts[models.JobRunning])
	}
	if st.OldestQueuedSecs < 0 {
		t.Errorf("oldest queued = %f", st.OldestQueuedSecs)
	}
	if len(st.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(st.Nodes))
	}
	n := st.Nodes[0]
	if n.NodeID != "node-a" || n.RunningJobs != 1 {
		t.Errorf("node status = %+v", n)
	}
	if n.UtilizationPct <= 0 {
		t.Errorf("utilization = %f, want > 0", n.UtilizationPct)
	}
}

func TestStatus_AvgWait(t *testing.T) {
	db := openTestDB(t)

	// Synthesize completed jobs with a known 10s created→started gap.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		started := base.Add(10 * time.Second)
		completed := base.Add(30 * time.Second)
		job := models.Job{
			ID:              GenerateIDOrDie(t),
			JobType:         "generation",
			EstimatedVramMb: 1000,
			Priority:        50,
			Status:          models.JobCompleted,
			CreatedAt:       base,
			StartedAt:       &started,
			CompletedAt:     &completed,
		}
		if err := db.Create(&job).Error; err != nil {
			t.Fatal(err)
		}
	}

	st, err := Status(db, 10)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.AvgWaitSecs < 9.9 || st.AvgWaitSecs > 10.1 {
		t.Errorf("avg wait = %f, want ~10s", st.AvgWaitSecs)
	}
}

func TestStatus_WaitWindowBounds(t *testing.T) {
	db := openTestDB(t)

	// Two old completions waited 100s, three recent ones 10s. A window of 3
	// must only see the recent ones.
	mk := func(wait time.Duration, completedAgo time.Duration) {
		created := time.Now().Add(-completedAgo - wait)
		started := created.Add(wait)
		completed := time.Now().Add(-completedAgo)
		job := models.Job{
			ID:              GenerateIDOrDie(t),
			JobType:         "generation",
			EstimatedVramMb: 1000,
			Status:          models.JobCompleted,
			CreatedAt:       created,
			StartedAt:       &started,
			CompletedAt:     &completed,
		}
		if err := db.Create(&job).Error; err != nil {
			t.Fatal(err)
		}
	}
	mk(100*time.Second, 2*time.Hour)
	mk(100*time.Second, 2*time.Hour)
	mk(10*time.Second, 10*time.Minute)
	mk(10*time.Second, 5*time.Minute)
	mk(10*time.Second, time.Minute)

	st, err := Status(db, 3)
	if err != nil {
		t.Fatal(err)
	}
	if st.AvgWaitSecs < 9.9 || st.AvgWaitSecs > 10.1 {
		t.Errorf("avg wait = %f, want ~10s from the trailing window only", st.AvgWaitSecs)
	}
}

// GenerateIDOrDie wraps GenerateID for test fixtures.
func GenerateIDOrDie(t *testing.T) string {
	t.Helper()
	id, err := GenerateID()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestStatus_DegradedSections(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", true, 8000)

	// Destroy the jobs table so every job statistic fails. The report must
	// still come back, with the failures recorded and the node section intact.
	if err := db.Migrator().DropTable(&models.Job{}); err != nil {
		t.Fatalf("drop jobs table: %v", err)
	}

	st, err := Status(db, 0)
	if err != nil {
		t.Fatalf("Status() error = %v, want nil with degraded sections", err)
	}
	if len(st.Degraded) == 0 {
		t.Fatal("degraded sections empty, want job statistics reported as failed")
	}
	found := false
	for _, d := range st.Degraded {
		if strings.HasPrefix(d, "counts:") {
			found = true
		}
	}
	if !found {
		t.Errorf("degraded = %v, want a counts entry", st.Degraded)
	}
	if len(st.Nodes) != 1 || st.Nodes[0].NodeID != "node-a" {
		t.Errorf("nodes = %+v, want node-a to survive the degraded report", st.Nodes)
	}
}
