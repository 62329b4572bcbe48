// Package events provides in-memory pub/sub for training-run lifecycle
// events, backed by a durable append-only log.
package events

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HistoryLimit caps the per-run in-memory ring buffer. Oldest entries are
// evicted first.
const HistoryLimit = 1000

// Event is one lifecycle notification for a training run.
type Event struct {
	RunID     string         `json:"run_id"`
	EventType string         `json:"event_type"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Callback receives events for a subscribed run.
type Callback func(Event)

// Filter limits which events reach a subscriber. A nil filter accepts all.
type Filter func(Event) bool

type subscriber struct {
	cb     Callback
	filter Filter
}

type runState struct {
	history []Event
	subs    map[int]subscriber
}

// Bus fans lifecycle events out to live subscribers and persists them
// best-effort. The subscriber registry is process-local; a multi-instance
// deployment needs an external fan-out in front of it.
type Bus struct {
	db *gorm.DB

	mu      sync.Mutex
	runs    map[string]*runState
	nextSub int

	persists sync.WaitGroup
}

// NewBus creates a Bus persisting to db. A nil db disables the durable log;
// live delivery and history still work.
func NewBus(db *gorm.DB) *Bus {
	return &Bus{
		db:   db,
		runs: make(map[string]*runState),
	}
}

// Emit records an event for the run, synchronously notifies live subscribers
// whose filter accepts it, and persists it asynchronously. A persistence
// failure is logged and never blocks or fails delivery.
func (b *Bus) Emit(runID, eventType string, payload datatypes.JSON) Event {
	evt := Event{
		RunID:     runID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	rs, ok := b.runs[runID]
	if !ok {
		rs = &runState{}
		b.runs[runID] = rs
	}
	rs.history = append(rs.history, evt)
	if len(rs.history) > HistoryLimit {
		rs.history = rs.history[len(rs.history)-HistoryLimit:]
	}
	// Snapshot subscribers so callbacks run outside the lock and can safely
	// re-enter the bus.
	targets := make([]subscriber, 0, len(rs.subs))
	for _, s := range rs.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if s.filter != nil && !s.filter(evt) {
			continue
		}
		s.cb(evt)
	}

	if b.db != nil {
		b.persists.Add(1)
		go func() {
			defer b.persists.Done()
			row := models.TrainingEvent{
				RunID:     evt.RunID,
				EventType: evt.EventType,
				Payload:   evt.Payload,
				CreatedAt: evt.CreatedAt,
			}
			if err := b.db.Create(&row).Error; err != nil {
				log.Printf("events: persist %s event for run %s: %v", eventType, runID, err)
			}
		}()
	}

	return evt
}

// Subscribe registers a callback for the run's events and returns an
// unsubscribe function. When the last subscriber for a run unsubscribes, the
// subscriber set is discarded; buffered history is kept.
func (b *Bus) Subscribe(runID string, cb Callback, filter ...Filter) func() {
	var f Filter
	if len(filter) > 0 {
		f = filter[0]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.runs[runID]
	if !ok {
		rs = &runState{}
		b.runs[runID] = rs
	}
	if rs.subs == nil {
		rs.subs = make(map[int]subscriber)
	}
	id := b.nextSub
	b.nextSub++
	rs.subs[id] = subscriber{cb: cb, filter: f}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if rs, ok := b.runs[runID]; ok {
			delete(rs.subs, id)
			if len(rs.subs) == 0 {
				rs.subs = nil
			}
		}
	}
}

// History returns buffered events for the run in creation order, optionally
// filtered to one event type.
func (b *Bus) History(runID string, eventType ...string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.runs[runID]
	if !ok {
		return nil
	}
	if len(eventType) == 0 || eventType[0] == "" {
		out := make([]Event, len(rs.history))
		copy(out, rs.history)
		return out
	}
	var out []Event
	for _, e := range rs.history {
		if e.EventType == eventType[0] {
			out = append(out, e)
		}
	}
	return out
}

// LoadHistory returns the run's persisted events in creation order, used to
// backfill clients that connect after a process restart.
func (b *Bus) LoadHistory(runID string) ([]Event, error) {
	if b.db == nil {
		return nil, fmt.Errorf("events: no durable log configured")
	}
	var rows []models.TrainingEvent
	if err := b.db.Where("run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("events: load history for run %s: %w", runID, err)
	}
	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = Event{
			RunID:     r.RunID,
			EventType: r.EventType,
			Payload:   r.Payload,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Stats reports bus self-monitoring counters.
type Stats struct {
	ActiveRuns     int `json:"active_runs"`
	Subscribers    int `json:"subscribers"`
	BufferedEvents int `json:"buffered_events"`
}

// GetStats returns counts of tracked runs, live subscribers, and buffered
// history entries.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{ActiveRuns: len(b.runs)}
	for _, rs := range b.runs {
		st.Subscribers += len(rs.subs)
		st.BufferedEvents += len(rs.history)
	}
	return st
}

// Flush blocks until all pending event persists have finished. Intended for
// shutdown and tests.
func (b *Bus) Flush() {
	b.persists.Wait()
}
