package syncapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/metadata"
)

// SyncHandler serves the polling fallback: clients that miss push events
// catch up via /sync/changes.
type SyncHandler struct {
	meta *metadata.Store
}

func New(meta *metadata.Store) *SyncHandler {
	return &SyncHandler{meta: meta}
}

// Changes returns the user's sync events after ?since (RFC 3339; defaults to
// the last hour). ?clientId excludes the caller's own events.
func (h *SyncHandler) Changes(ctx *gin.Context) {
	since := time.Now().Add(-time.Hour)
	if raw := ctx.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
				fmt.Errorf("invalid since timestamp %q: %w", raw, err))
			return
		}
		since = parsed
	}

	events, err := h.meta.ListEventsSince(ctx, ctx.GetString("uid"), since)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	if clientID := ctx.Query("clientId"); clientID != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.ClientID != clientID {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []*metadata.SyncEvent{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"events":     events,
		"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Heartbeat is the HTTP liveness probe used when the push channel is down.
func (h *SyncHandler) Heartbeat(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
