package sdk

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/server/auth"
	"github.com/driftbox/driftbox/internal/server/handlers/ws"
)

type staticValidator struct{}

func (staticValidator) ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error) {
	return &auth.Claims{
		Type:             auth.AccessToken,
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}, nil
}

// A failed dial must not wedge the push channel: every Connect call dials
// fresh instead of reusing failed state.
func TestEventsConnectRetryableAfterFailure(t *testing.T) {
	events := newEventsAPI("http://127.0.0.1:1")
	events.SetToken("tok")
	events.SetClientID("client-a")
	t.Cleanup(events.Close)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := events.Connect(ctx)
		cancel()
		require.Error(t, err)
		assert.False(t, events.IsConnected())
	}
}

// The daemon may start before the server is reachable. A later Connect on
// the same API must establish the session once the server is up.
func TestEventsConnectRecoversWhenServerComesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	events := newEventsAPI("http://" + addr)
	events.SetToken("tok")
	events.SetClientID("client-a")
	t.Cleanup(events.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	require.Error(t, events.Connect(ctx))
	cancel()
	assert.False(t, events.IsConnected())

	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(staticValidator{})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	t.Cleanup(hubCancel)
	go hub.Run(hubCtx)

	router := gin.New()
	router.GET("/ws/sync", hub.WebsocketHandler)

	ln, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	server := &http.Server{Handler: router}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, events.Connect(ctx))
	assert.True(t, events.IsConnected())
}
