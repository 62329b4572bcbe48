package vram

import (
	"errors"
	"testing"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Job{},
		&models.Node{},
		&models.GPUSnapshot{},
		&models.VramLock{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func seedNode(t *testing.T, db *gorm.DB, nodeID string, freeMb, reservedMb int) {
	t.Helper()
	if err := db.Create(&models.Node{ID: nodeID, Name: nodeID, Enabled: true}).Error; err != nil {
		t.Fatalf("seed node: %v", err)
	}
	snap := models.GPUSnapshot{
		NodeID:         nodeID,
		TotalVramMb:    freeMb + reservedMb + 1000,
		UsedVramMb:     1000,
		FreeVramMb:     freeMb + reservedMb,
		ReservedVramMb: reservedMb,
		CreatedAt:      time.Now(),
	}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func TestAvailableVram_NoSnapshot(t *testing.T) {
	db := openTestDB(t)
	_, err := AvailableVram(db, "ghost")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("AvailableVram(no snapshot) = %v, want ErrNotFound", err)
	}
}

func TestAvailableVram_SubtractsReserved(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 2000)

	avail, err := AvailableVram(db, "node-a")
	if err != nil {
		t.Fatalf("AvailableVram() error = %v", err)
	}
	// free 10000 (8000+2000), reserved 2000.
	if avail != 8000 {
		t.Errorf("AvailableVram() = %d, want 8000", avail)
	}
}

func TestAvailableVram_LatestSnapshotWins(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 0)

	newer := models.GPUSnapshot{
		NodeID:      "node-a",
		TotalVramMb: 9000,
		UsedVramMb:  7000,
		FreeVramMb:  2000,
		CreatedAt:   time.Now().Add(time.Minute),
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatal(err)
	}

	avail, err := AvailableVram(db, "node-a")
	if err != nil {
		t.Fatalf("AvailableVram() error = %v", err)
	}
	if avail != 2000 {
		t.Errorf("AvailableVram() = %d, want 2000 from newest snapshot", avail)
	}
}

func TestCanAllocate(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 0)

	ok, err := CanAllocate(db, "node-a", 4000)
	if err != nil || !ok {
		t.Fatalf("CanAllocate(4000) = %v, %v; want true", ok, err)
	}

	if _, err := AcquireLock(db, "job-1", "node-a", 6000, 0); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	ok, err = CanAllocate(db, "node-a", 4000)
	if err != nil {
		t.Fatalf("CanAllocate() error = %v", err)
	}
	if ok {
		t.Error("CanAllocate(4000) should be false with 6000 locked of 8000")
	}
	ok, _ = CanAllocate(db, "node-a", 2000)
	if !ok {
		t.Error("CanAllocate(2000) should be true with 2000 remaining")
	}
}

func TestAcquireLock_InsufficientResource(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 3000, 0)

	_, err := AcquireLock(db, "job-1", "node-a", 5000, 0)
	if !errors.Is(err, apperr.ErrInsufficientResource) {
		t.Fatalf("AcquireLock(5000 of 3000) = %v, want ErrInsufficientResource", err)
	}

	// No lock row may survive a failed acquisition.
	var count int64
	db.Model(&models.VramLock{}).Count(&count)
	if count != 0 {
		t.Errorf("lock rows after failed acquire = %d, want 0", count)
	}
}

func TestAcquireLock_Result(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 0)

	res, err := AcquireLock(db, "job-1", "node-a", 5000, 0)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if !res.CanProceed {
		t.Error("CanProceed = false, want true")
	}
	if res.RemainingMb != 3000 {
		t.Errorf("RemainingMb = %d, want 3000", res.RemainingMb)
	}
	if res.LockID == "" {
		t.Error("LockID is empty")
	}

	var lock models.VramLock
	if err := db.First(&lock, "id = ?", res.LockID).Error; err != nil {
		t.Fatalf("lock row missing: %v", err)
	}
	if lock.VramLockedMb != 5000 || lock.JobID != "job-1" || lock.NodeID != "node-a" {
		t.Errorf("lock row = %+v", lock)
	}
	wantExpiry := lock.AcquiredAt.Add(DefaultLockTTL)
	if !lock.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", lock.ExpiresAt, wantExpiry)
	}
}

func TestAcquireLock_NoOversubscription(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 1000)
	// 9000 free - 1000 reserved = 8000 usable.

	granted := 0
	for i := 0; i < 10; i++ {
		if _, err := AcquireLock(db, "job-n", "node-a", 3000, 0); err == nil {
			granted++
		}
	}
	if granted != 2 {
		t.Errorf("granted %d locks of 3000 MB on 8000 usable, want 2", granted)
	}

	var locked int64
	db.Model(&models.VramLock{}).
		Where("released = ?", false).
		Select("COALESCE(SUM(vram_locked_mb), 0)").Scan(&locked)
	if locked > 8000 {
		t.Errorf("active locked = %d MB, exceeds 8000 usable", locked)
	}
}

func TestAcquireLock_Validation(t *testing.T) {
	db := openTestDB(t)
	tests := []struct {
		name   string
		jobID  string
		nodeID string
		mb     int
	}{
		{"empty job", "", "node-a", 100},
		{"empty node", "job-1", "", 100},
		{"zero mb", "job-1", "node-a", 0},
		{"negative mb", "job-1", "node-a", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := AcquireLock(db, tt.jobID, tt.nodeID, tt.mb, 0); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReleaseLock_Idempotent(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 0)

	res, err := AcquireLock(db, "job-1", "node-a", 4000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ReleaseLock(db, res.LockID); err != nil {
		t.Fatalf("first ReleaseLock() error = %v", err)
	}

	var lock models.VramLock
	db.First(&lock, "id = ?", res.LockID)
	if !lock.Released || lock.ReleasedAt == nil {
		t.Errorf("lock after release = %+v", lock)
	}
	firstReleasedAt := *lock.ReleasedAt

	// Second release is a no-op and must not restamp ReleasedAt.
	if err := ReleaseLock(db, res.LockID); err != nil {
		t.Fatalf("second ReleaseLock() error = %v", err)
	}
	db.First(&lock, "id = ?", res.LockID)
	if !lock.ReleasedAt.Equal(firstReleasedAt) {
		t.Errorf("ReleasedAt changed on second release: %v → %v", firstReleasedAt, lock.ReleasedAt)
	}
}

func TestReleaseLock_NotFound(t *testing.T) {
	db := openTestDB(t)
	err := ReleaseLock(db, "no-such-lock")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ReleaseLock(missing) = %v, want ErrNotFound", err)
	}
}

func TestReleaseLock_FreesCapacity(t *testing.T) {
	db := openTestDB(t)
	seedNode(t, db, "node-a", 8000, 0)

	res, err := AcquireLock(db, "job-1", "node-a", 8000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AcquireLock(db, "job-2", "node-a", 1000, 0); !errors.Is(err, apperr.ErrInsufficientResource) {
		t.Fatalf("expected node full, got %v", err)
	}
	if err := ReleaseLock(db, res.LockID); err != nil {
		t.Fatal(err)
	}
	if _, err := AcquireLock(db, "job-2", "node-a", 1000, 0); err != nil {
		t.Errorf("AcquireLock after release = %v, want success", err)
	}
}
