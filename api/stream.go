package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stellarlinkco/docarena/internal/run"
)

const streamHeartbeat = 15 * time.Second

// handleStreamRun streams StatsSnapshot updates over SSE. Delivery is
// best-effort at-most-once: a reconnecting observer catches up from the
// persisted snapshot, there is no replay buffer.
func (s *Server) handleStreamRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	ch, cancel := s.bc.Subscribe(id)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	// Late attachers start from the last known state.
	if snap, ok := s.bc.Snapshot(id); ok && !snap.UpdatedAt.IsZero() {
		writeSnapshotEvent(c, snap)
	} else if s.store != nil {
		if snap, err := s.store.LoadSnapshot(c.Request.Context(), id); err == nil {
			writeSnapshotEvent(c, *snap)
		}
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			writeSnapshotEvent(c, snap)
			c.Writer.Flush()
			if run.Status(snap.Phase).Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		}
	}
}

func writeSnapshotEvent(c *gin.Context, snap run.StatsSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: stats\ndata: %s\n\n", payload)
}
