package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/server/auth"
	"github.com/driftbox/driftbox/internal/wsproto"
)

type stubValidator struct{}

func (stubValidator) ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error) {
	return &auth.Claims{
		Type:             auth.AccessToken,
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}, nil
}

// Broadcasts can race a session teardown: the hub may still hold the client
// after its write loop stopped draining Tx. Sends during and after Close
// must be safe no-ops.
func TestSendDuringCloseDoesNotPanic(t *testing.T) {
	clientCh := make(chan *WebsocketClient, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := NewWebsocketClient(conn, stubValidator{}, r.RemoteAddr)
		c.Start(context.Background())
		clientCh <- c
	}))
	t.Cleanup(server.Close)

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	client := <-clientCh
	frame := wsproto.NewErrorFrame("drain me")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				client.send(frame)
			}
		}()
	}
	client.Close()
	wg.Wait()

	select {
	case <-client.Closed:
	default:
		t.Fatal("client did not close")
	}

	// a straggler broadcast after full teardown is also safe
	client.send(frame)
}
