package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/wsproto"
)

const (
	writeTimeout      = 20 * time.Second
	heartbeatInterval = 30 * time.Second
	missedHeartbeats  = 2

	shutdownReason = "shutdown"
)

type clientState int

const (
	statePending clientState = iota // socket open, CONNECT not yet seen
	stateConnected
)

// WebsocketClient is one push-channel session. It runs the frame state
// machine: CONNECT must arrive (and validate) before any SUBSCRIBE is
// honored, and heartbeats on /app/heartbeat keep the session alive.
type WebsocketClient struct {
	ConnID string
	Info   *SessionInfo
	Tx     chan *wsproto.Frame
	Closed chan struct{}

	conn      *websocket.Conn
	validator TokenValidator

	mu       sync.RWMutex
	state    clientState
	subs     mapset.Set[string]
	lastBeat time.Time

	wsDone    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWebsocketClient(conn *websocket.Conn, validator TokenValidator, ipAddr string) *WebsocketClient {
	return &WebsocketClient{
		ConnID:    utils.TokenHex(4),
		Info:      &SessionInfo{IPAddr: ipAddr},
		Tx:        make(chan *wsproto.Frame, 256),
		Closed:    make(chan struct{}),
		conn:      conn,
		validator: validator,
		subs:      mapset.NewSet[string](),
		lastBeat:  time.Now(),
		wsDone:    make(chan struct{}),
	}
}

func (c *WebsocketClient) Start(ctx context.Context) {
	slog.Debug("wsclient start", "connId", c.ConnID)
	c.wg.Add(3)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
	go c.heartbeatMonitor(ctx)
}

func (c *WebsocketClient) Close() {
	c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	c.wg.Wait()
}

// Connected reports whether the CONNECT handshake has completed.
func (c *WebsocketClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateConnected
}

// SubscribedTo reports whether the session subscribed to the destination.
func (c *WebsocketClient) SubscribedTo(destination string) bool {
	return c.subs.Contains(destination)
}

func (c *WebsocketClient) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.wsDone)
		c.conn.Close(status, reason)
		c.wg.Wait()
		close(c.Closed)
		// Tx stays open: the hub may still hold a reference and broadcast
		// concurrently, and a send racing a close would panic. Senders
		// select on Closed instead; the unread channel is collected with
		// the client.
		slog.Debug("wsclient closed", "connId", c.ConnID, "reason", reason)
	})
}

func (c *WebsocketClient) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("wsclient reader shutdown", "connId", c.ConnID)
		c.wg.Done()
		go c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		frame, err := wsproto.Read(ctx, c.conn)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// connection closed by client
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusNoStatusRcvd {
				slog.Warn("wsclient reader", "error", err, "connId", c.ConnID)
			}
			return
		}

		select {
		case <-c.wsDone:
			return
		default:
		}

		c.handleFrame(ctx, frame)
	}
}

func (c *WebsocketClient) handleFrame(ctx context.Context, frame *wsproto.Frame) {
	switch frame.Command {
	case wsproto.CmdConnect:
		c.handleConnect(ctx, frame)

	case wsproto.CmdSubscribe:
		if !c.Connected() {
			c.send(wsproto.NewErrorFrame("not connected"))
			return
		}
		dest := frame.Header(wsproto.HdrDestination)
		if dest == "" {
			c.send(wsproto.NewErrorFrame("subscribe without destination"))
			return
		}
		c.subs.Add(dest)
		slog.Debug("wsclient subscribed", "connId", c.ConnID, "destination", dest)

	case wsproto.CmdSend:
		if !c.Connected() {
			return
		}
		if frame.Header(wsproto.HdrDestination) == wsproto.DestHeartbeat {
			c.mu.Lock()
			c.lastBeat = time.Now()
			c.mu.Unlock()
		}

	default:
		slog.Debug("wsclient ignoring frame", "connId", c.ConnID, "command", frame.Command)
	}
}

func (c *WebsocketClient) handleConnect(ctx context.Context, frame *wsproto.Frame) {
	token := strings.TrimPrefix(frame.Header(wsproto.HdrAuthorization), "Bearer ")
	claims, err := c.validator.ValidateAccessToken(ctx, token)
	if err != nil {
		slog.Warn("wsclient connect rejected", "connId", c.ConnID, "error", err)
		c.send(wsproto.NewErrorFrame("authentication failed"))
		go c.closeConnection(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	c.mu.Lock()
	c.state = stateConnected
	c.Info.UserID = claims.UserID
	c.Info.Username = claims.Subject
	c.Info.ClientID = frame.Header(wsproto.HdrClientID)
	c.lastBeat = time.Now()
	c.mu.Unlock()

	c.send(wsproto.NewConnectedFrame())
	slog.Info("wsclient connected", "connId", c.ConnID, "user", claims.Subject, "clientId", c.Info.ClientID)
}

func (c *WebsocketClient) send(frame *wsproto.Frame) {
	select {
	case <-c.wsDone:
	case c.Tx <- frame:
	default:
		slog.Warn("wsclient send buffer full", "connId", c.ConnID)
	}
}

func (c *WebsocketClient) writeLoop(ctx context.Context) {
	defer func() {
		slog.Debug("wsclient writer shutdown", "connId", c.ConnID)
		c.wg.Done()
		go c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		select {
		case frame := <-c.Tx:
			ctxWrite, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsproto.Write(ctxWrite, c.conn, frame)
			cancel()
			if err != nil {
				slog.Error("wsclient writer", "connId", c.ConnID, "command", frame.Command, "error", err)
			}

		case <-c.wsDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

// heartbeatMonitor drops the session after two missed heartbeats.
func (c *WebsocketClient) heartbeatMonitor(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(heartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.mu.RLock()
			silent := time.Since(c.lastBeat)
			c.mu.RUnlock()

			if silent > missedHeartbeats*heartbeatInterval {
				slog.Info("wsclient heartbeat timeout", "connId", c.ConnID, "silent", silent)
				go c.closeConnection(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
			timer.Reset(heartbeatInterval)

		case <-c.wsDone:
			return

		case <-ctx.Done():
			return
		}
	}
}
