// Package janitor runs the periodic stale-lock sweep that recovers VRAM
// after worker crashes.
package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/vram"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor sweeps stale VRAM locks on a cron schedule.
type Janitor struct {
	db      *gorm.DB
	sched   cron.Schedule
	lockTTL time.Duration
}

// New creates a Janitor from a 5-field cron expression and lock TTL.
func New(db *gorm.DB, cronExpr string, lockTTL time.Duration) (*Janitor, error) {
	if db == nil {
		return nil, fmt.Errorf("janitor: db is required")
	}
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("janitor: parse cron %q: %w", cronExpr, err)
	}
	if lockTTL <= 0 {
		lockTTL = vram.DefaultLockTTL
	}
	return &Janitor{db: db, sched: sched, lockTTL: lockTTL}, nil
}

// SweepOnce runs a single stale-lock sweep and returns the reclaim count.
func (j *Janitor) SweepOnce() (int, error) {
	return vram.CleanupStaleLocks(j.db, j.lockTTL)
}

// Run blocks, sweeping at each scheduled fire time until ctx is cancelled.
// Sweep errors are logged, not fatal: a transient storage failure must not
// kill the recovery loop.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			n, err := j.SweepOnce()
			if err != nil {
				log.Printf("janitor: sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("janitor: reclaimed %d stale VRAM locks", n)
			}
		}
	}
}
