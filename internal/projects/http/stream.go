package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 15 * time.Second

// stream pushes project events to the client using Server-Sent Events.
// Each event carries the refreshed aggregate.
func (h *Handler) stream(c *gin.Context) {
	if h.events == nil {
		fail(c, http.StatusNotImplemented, "streaming_disabled", "project events are not configured")
		return
	}
	id := c.Param("id")
	v, err := h.builder.Build(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fail(c, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	ctx := c.Request.Context()
	sub, err := h.events.Subscribe(ctx, v.SmartContractAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	initial, _ := json.Marshal(gin.H{"project": v})
	fmt.Fprintf(c.Writer, "event: initial\ndata: %s\n\n", initial)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			payload := gin.H{"operation": e.Operation, "at": e.At}
			if fresh, err := h.builder.Build(ctx, id); err == nil {
				payload["project"] = fresh
			} else {
				payload["error"] = err.Error()
			}
			data, _ := json.Marshal(payload)
			fmt.Fprintf(c.Writer, "event: update\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
