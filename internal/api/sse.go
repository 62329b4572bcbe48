package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/events"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/training"
	"github.com/gin-gonic/gin"
)

// sseEventPayload is what goes over the wire for one run event.
type sseEventPayload struct {
	RunID     string          `json:"run_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toWire(evt events.Event) sseEventPayload {
	return sseEventPayload{
		RunID:     evt.RunID,
		EventType: evt.EventType,
		Payload:   json.RawMessage(evt.Payload),
		CreatedAt: evt.CreatedAt,
	}
}

// handleRunEvents streams a run's lifecycle events over SSE. With ?replay=1
// the buffered history is sent first, then live events until the client
// disconnects or the run is unknown.
func (s *server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")
	if _, err := training.GetRun(s.db, runID); err != nil {
		respondErr(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"run_id": runID})
	c.Writer.Flush()

	ctx := c.Request.Context()

	if c.Query("replay") == "1" {
		history := s.bus.History(runID)
		if len(history) == 0 {
			// The buffer is process-local; fall back to the persisted log.
			if persisted, err := s.bus.LoadHistory(runID); err == nil {
				history = persisted
			}
		}
		for _, evt := range history {
			writeSSE(c.Writer, evt.EventType, toWire(evt))
		}
		c.Writer.Flush()
	}

	stream := s.bus.Stream(ctx, runID)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, ok := <-stream:
			if !ok {
				return
			}
			writeSSE(c.Writer, evt.EventType, toWire(evt))
			c.Writer.Flush()
		}
	}
}

func (s *server) handleEventStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.GetStats())
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
