package events

import (
	"context"
	"sync"
)

// streamBuffer is the per-stream channel depth. A consumer that falls this
// far behind starts losing events; SSE clients recover via history backfill.
const streamBuffer = 64

// Stream subscribes to the run and returns a channel of its live events.
// The subscription ends and the channel closes when ctx is cancelled.
func (b *Bus) Stream(ctx context.Context, runID string) <-chan Event {
	ch := make(chan Event, streamBuffer)

	var mu sync.Mutex
	closed := false

	unsub := b.Subscribe(runID, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default: // slow consumer
		}
	})

	go func() {
		<-ctx.Done()
		unsub()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}
