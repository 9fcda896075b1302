package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driftbox/driftbox/internal/syncmsg"
	"github.com/driftbox/driftbox/internal/wsproto"
)

const (
	eventsBufferSize        = 16
	eventsPath              = "/ws/sync"
	eventsHeartbeatInterval = 30 * time.Second
	eventsReconnectDelay    = 10 * time.Second
	eventsConnectTimeout    = 10 * time.Second
	eventsMaxMessageSize    = 1 * 1024 * 1024 // matches the server read limit
)

var (
	ErrEventsNotConnected = fmt.Errorf("sdk: events: not connected")
	ErrEventsRejected     = fmt.Errorf("sdk: events: connect rejected")
)

// Event is one push notification together with the destination it arrived
// on. Conflict merges show up twice, once per destination.
type Event struct {
	Destination string
	Data        *syncmsg.SyncEvent
}

// EventsAPI maintains the websocket push channel: CONNECT handshake,
// subscriptions, client heartbeats and reconnection. Events missed while
// disconnected are not replayed here; catch up via SyncAPI.Changes.
type EventsAPI struct {
	baseURL string
	events  chan *Event
	ctx     context.Context
	cancel  context.CancelFunc

	mu               sync.RWMutex
	token            string
	clientID         string
	conn             *wsConn
	connected        bool
	shouldReconnect  bool
	reconnectAttempt int
}

func newEventsAPI(baseURL string) *EventsAPI {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventsAPI{
		baseURL: baseURL,
		events:  make(chan *Event, eventsBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetToken updates the credential used by the next CONNECT handshake.
func (e *EventsAPI) SetToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
}

// SetClientID sets the device identity announced on CONNECT. The server
// uses it to suppress echoes of this client's own changes.
func (e *EventsAPI) SetClientID(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clientID = clientID
}

// Connect dials the push channel and completes the session handshake. A
// dropped connection is redialed automatically until Close is called.
func (e *EventsAPI) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected && e.conn != nil {
		return nil
	}

	conn, err := e.connectLocked(ctx)
	if err != nil {
		return fmt.Errorf("sdk: events: connect failed: %w", err)
	}

	e.shouldReconnect = true
	go e.manageConnection(conn)
	return nil
}

// IsConnected reports whether the session is currently established.
func (e *EventsAPI) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Get returns the channel push notifications are delivered on.
func (e *EventsAPI) Get() <-chan *Event {
	return e.events
}

// Close tears down the session and stops reconnecting.
func (e *EventsAPI) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.shouldReconnect = false
	e.cancel()

	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	slog.Info("events channel closed")
}

// connectLocked dials, performs the CONNECT handshake and subscribes to the
// per-user destinations. Must be called with the lock held.
func (e *EventsAPI) connectLocked(ctx context.Context) (*wsConn, error) {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
		e.connected = false
	}

	url := toWebsocketURL(strings.TrimSuffix(e.baseURL, "/") + eventsPath)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(eventsMaxMessageSize)

	// handshake happens before the pump loops own the connection
	if err := wsproto.Write(ctx, conn, wsproto.NewConnectFrame(e.token, e.clientID)); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("send connect: %w", err)
	}

	frame, err := wsproto.Read(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("await connected: %w", err)
	}
	if frame.Command != wsproto.CmdConnected {
		reason := frame.Header(wsproto.HdrMessage)
		conn.Close(websocket.StatusNormalClosure, "rejected")
		return nil, fmt.Errorf("%w: %s", ErrEventsRejected, reason)
	}

	wsc := newWSConn(conn)
	wsc.Start(e.ctx)

	// subscriptions are re-sent on every (re)connect
	wsc.frameTx <- wsproto.NewSubscribeFrame(wsproto.DestFileChanges)
	wsc.frameTx <- wsproto.NewSubscribeFrame(wsproto.DestConflicts)

	e.conn = wsc
	e.connected = true
	e.reconnectAttempt = 0

	slog.Info("events channel connected")
	return wsc, nil
}

// manageConnection watches one connection until it drops, then reconnects
// unless Close was called.
func (e *EventsAPI) manageConnection(conn *wsConn) {
	go e.consumeFrames(conn)
	go e.runHeartbeats(conn)

	select {
	case <-conn.closed:
		slog.Info("events channel disconnected")

		e.mu.Lock()
		shouldReconnect := e.shouldReconnect
		if e.conn == conn {
			e.conn = nil
			e.connected = false
		}
		e.mu.Unlock()

		select {
		case <-e.ctx.Done():
			return
		default:
			if shouldReconnect {
				e.reconnectWithDelay()
			}
		}

	case <-e.ctx.Done():
		return
	}
}

// consumeFrames turns MESSAGE frames into Events on the delivery channel.
func (e *EventsAPI) consumeFrames(conn *wsConn) {
	for {
		select {
		case <-e.ctx.Done():
			return

		case <-conn.closed:
			return

		case frame, ok := <-conn.frameRx:
			if !ok {
				return
			}

			switch frame.Command {
			case wsproto.CmdMessage:
				var ev syncmsg.SyncEvent
				if err := frame.DecodeBody(&ev); err != nil {
					slog.Warn("events decode", "error", err)
					continue
				}

				select {
				case e.events <- &Event{Destination: frame.Header(wsproto.HdrDestination), Data: &ev}:
				default:
					slog.Warn("events buffer full. dropped", "eventId", ev.EventID, "type", ev.EventType)
				}

			case wsproto.CmdError:
				slog.Warn("events server error", "message", frame.Header(wsproto.HdrMessage))

			default:
				slog.Debug("events ignoring frame", "cmd", frame.Command)
			}
		}
	}
}

// runHeartbeats announces liveness every 30 seconds. The server drops
// sessions silent for two intervals.
func (e *EventsAPI) runHeartbeats(conn *wsConn) {
	timer := time.NewTimer(eventsHeartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return

		case <-conn.closed:
			return

		case <-timer.C:
			e.mu.RLock()
			clientID := e.clientID
			e.mu.RUnlock()

			frame, err := wsproto.NewSendFrame(wsproto.DestHeartbeat, &syncmsg.Heartbeat{ClientID: clientID})
			if err != nil {
				slog.Error("events heartbeat encode", "error", err)
				return
			}

			select {
			case conn.frameTx <- frame:
			default:
				slog.Warn("events heartbeat dropped, send buffer full")
			}

			timer.Reset(eventsHeartbeatInterval)
		}
	}
}

// reconnectWithDelay redials on a fixed delay with jitter until it succeeds
// or the API is closed.
func (e *EventsAPI) reconnectWithDelay() {
	for {
		e.mu.Lock()
		e.reconnectAttempt++
		attempt := e.reconnectAttempt
		e.mu.Unlock()

		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay := time.Duration(float64(eventsReconnectDelay) * jitterFactor)

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}

		slog.Info("events channel reconnecting", "attempt", attempt, "delay", delay)

		ctx, cancel := context.WithTimeout(e.ctx, eventsConnectTimeout)
		e.mu.Lock()
		conn, err := e.connectLocked(ctx)
		e.mu.Unlock()
		cancel()

		if err == nil {
			go e.manageConnection(conn)
			return
		}

		slog.Warn("events channel reconnect failed", "error", err)
	}
}

// toWebsocketURL converts an HTTP URL to its websocket equivalent.
func toWebsocketURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + url[8:]
	} else if strings.HasPrefix(url, "http://") {
		return "ws://" + url[7:]
	}
	return url
}
