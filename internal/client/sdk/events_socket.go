package sdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driftbox/driftbox/internal/wsproto"
)

const (
	wsChannelSize  = 256
	wsPingPeriod   = 15 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// wsConn pumps frames between the websocket and a pair of channels. The
// session protocol on top of it lives in EventsAPI.
type wsConn struct {
	conn      *websocket.Conn
	frameRx   chan *wsproto.Frame // frames received from the server
	frameTx   chan *wsproto.Frame // frames queued for the server
	closed    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:    conn,
		frameRx: make(chan *wsproto.Frame, wsChannelSize),
		frameTx: make(chan *wsproto.Frame, wsChannelSize),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (c *wsConn) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *wsConn) Close() {
	c.closeConnection(websocket.StatusNormalClosure, "shutdown")
}

func (c *wsConn) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.conn.Close(status, reason)

		// wait for both loops before signalling closure
		c.wg.Wait()

		close(c.closed)
		close(c.frameRx)
	})
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("events socket reader shutdown")
		c.wg.Done()
		go c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closing:
			return
		default:
		}

		frame, err := wsproto.Read(ctx, c.conn)
		if err != nil {
			if !isWSExpectedCloseError(err) {
				slog.Warn("events socket recv", "error", err)
			}
			return
		}

		select {
		case <-c.closing:
			return
		case c.frameRx <- frame:
		default:
			slog.Warn("events socket recv buffer full", "dropped", frame.Command)
		}
	}
}

func (c *wsConn) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(wsPingPeriod)
	defer func() {
		slog.Debug("events socket writer shutdown")
		pingTicker.Stop()
		c.wg.Done()
		go c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.closing:
			return

		case frame := <-c.frameTx:
			ctxWrite, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsproto.Write(ctxWrite, c.conn, frame)
			cancel()
			if err != nil {
				slog.Error("events socket send", "error", err)
				return
			}

		case <-pingTicker.C:
			ctxPing, cancel := context.WithTimeout(ctx, wsPingTimeout)
			err := c.conn.Ping(ctxPing)
			cancel()
			if err != nil {
				slog.Error("events socket ping", "error", err)
				return
			}
		}
	}
}

// isWSExpectedCloseError reports whether err is a routine connection
// teardown rather than a fault worth logging.
func isWSExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
