package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/wsproto"
)

const maxMessageSize = 1 * 1024 * 1024 // frames carry events, never file bytes

// WebsocketHub owns every push-channel session. It satisfies the reconcile
// service's Broadcaster: accepted mutations fan out to the user's other
// clients, keyed off the event's originating clientId.
type WebsocketHub struct {
	validator TokenValidator

	clients  map[string]*WebsocketClient // ConnID -> client
	register chan *WebsocketClient

	wg sync.WaitGroup
	mu sync.RWMutex
}

func NewHub(validator TokenValidator) *WebsocketHub {
	return &WebsocketHub{
		validator: validator,
		clients:   make(map[string]*WebsocketClient),
		register:  make(chan *WebsocketClient),
	}
}

func (h *WebsocketHub) Run(ctx context.Context) {
	slog.Info("wshub started")
	defer slog.Info("wshub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			slog.Debug("wshub registered", "connId", client.ConnID, "active", len(h.clients))
			h.mu.Unlock()

			h.wg.Add(1)
			go client.Start(ctx)
			go func() {
				<-client.Closed

				h.mu.Lock()
				delete(h.clients, client.ConnID)
				slog.Debug("wshub removed", "connId", client.ConnID, "active", len(h.clients))
				h.mu.Unlock()
				h.wg.Done()
			}()

		case <-ctx.Done():
			return
		}
	}
}

func (h *WebsocketHub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*WebsocketClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		go client.Close()
	}

	h.wg.Wait()
	slog.Info("wshub shutdown")
}

// WebsocketHandler upgrades the connection and hands it to the hub. The
// route is mounted outside the JWT middleware; authentication happens via
// the CONNECT frame.
func (h *WebsocketHub) WebsocketHandler(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	h.register <- NewWebsocketClient(conn, h.validator, ctx.ClientIP())
}

// Broadcast streams a sync event to all of the user's connected clients
// except the one that caused it. CONFLICT events also go out on the
// conflicts destination. Missed events are not buffered; polling catches
// clients up.
func (h *WebsocketHub) Broadcast(userID string, ev *metadata.SyncEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.Connected() || client.Info.UserID != userID {
			continue
		}
		if ev.ClientID != "" && client.Info.ClientID == ev.ClientID {
			continue
		}

		h.sendTo(client, wsproto.DestFileChanges, ev)
		if ev.SyncStatus == "CONFLICT" {
			h.sendTo(client, wsproto.DestConflicts, ev)
		}
	}
}

func (h *WebsocketHub) sendTo(client *WebsocketClient, destination string, ev *metadata.SyncEvent) {
	if !client.SubscribedTo(destination) {
		return
	}
	frame, err := wsproto.NewMessageFrame(destination, ev)
	if err != nil {
		slog.Error("wshub encode event", "error", err)
		return
	}
	select {
	case <-client.Closed:
		// client went away mid-broadcast; polling catches it up
	case client.Tx <- frame:
	default:
		slog.Warn("wshub send buffer full", "connId", client.ConnID, "user", client.Info.Username)
	}
}

// ConnectedClients reports active sessions for a user.
func (h *WebsocketHub) ConnectedClients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.clients {
		if client.Connected() && client.Info.UserID == userID {
			n++
		}
	}
	return n
}
