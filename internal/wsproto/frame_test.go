package wsproto

import (
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/syncmsg"
)

func TestFrameRoundTrip(t *testing.T) {
	evt := &syncmsg.SyncEvent{
		EventID:    "e1",
		EventType:  syncmsg.EventModify,
		ClientID:   "c1",
		FilePath:   "docs/a.txt",
		SyncStatus: syncmsg.StatusCompleted,
	}

	frame, err := NewMessageFrame(DestFileChanges, evt)
	require.NoError(t, err)

	typ, data, err := Marshal(frame)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	decoded, err := Unmarshal(typ, data)
	require.NoError(t, err)
	assert.Equal(t, CmdMessage, decoded.Command)
	assert.Equal(t, DestFileChanges, decoded.Header(HdrDestination))

	var decodedEvt syncmsg.SyncEvent
	require.NoError(t, decoded.DecodeBody(&decodedEvt))
	assert.Equal(t, *evt, decodedEvt)
}

func TestConnectFrame(t *testing.T) {
	frame := NewConnectFrame("tok123", "client-a")
	assert.Equal(t, CmdConnect, frame.Command)
	assert.Equal(t, "Bearer tok123", frame.Header(HdrAuthorization))
	assert.Equal(t, "client-a", frame.Header(HdrClientID))
}

func TestUnmarshal_Rejects(t *testing.T) {
	_, err := Unmarshal(websocket.MessageBinary, []byte("{}"))
	assert.Error(t, err)

	_, err = Unmarshal(websocket.MessageText, []byte("not json"))
	assert.Error(t, err)

	_, err = Unmarshal(websocket.MessageText, []byte(`{"hdr":{}}`))
	assert.Error(t, err, "missing command")
}
