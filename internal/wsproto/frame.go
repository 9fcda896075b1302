// Package wsproto defines the frame protocol spoken over the push channel.
//
// The channel is a plain websocket carrying JSON text frames. A session is
// established with CONNECT -> CONNECTED; subscriptions and heartbeats follow.
// SUBSCRIBE frames sent before CONNECTED are rejected by the server.
package wsproto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

type Command string

const (
	CmdConnect   Command = "CONNECT"   // client -> server, carries credential
	CmdConnected Command = "CONNECTED" // server -> client
	CmdSubscribe Command = "SUBSCRIBE" // client -> server, carries destination
	CmdMessage   Command = "MESSAGE"   // server -> client, carries JSON event body
	CmdSend      Command = "SEND"      // client -> server, heartbeats and acks
	CmdError     Command = "ERROR"     // either direction
)

// Well-known destinations.
const (
	DestFileChanges = "/user/queue/file-changes"
	DestConflicts   = "/user/queue/conflicts"
	DestHeartbeat   = "/app/heartbeat"
)

// Frame headers.
const (
	HdrAuthorization = "authorization"
	HdrClientID      = "client-id"
	HdrDestination   = "destination"
	HdrMessage       = "message"
)

type Frame struct {
	Command Command           `json:"cmd"`
	Headers map[string]string `json:"hdr,omitempty"`
	Body    json.RawMessage   `json:"bdy,omitempty"`
}

func (f *Frame) Header(key string) string {
	return f.Headers[key]
}

// DecodeBody unmarshals the frame body into v.
func (f *Frame) DecodeBody(v any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("wsproto: frame has no body")
	}
	return json.Unmarshal(f.Body, v)
}

func NewConnectFrame(token, clientID string) *Frame {
	return &Frame{
		Command: CmdConnect,
		Headers: map[string]string{
			HdrAuthorization: "Bearer " + token,
			HdrClientID:      clientID,
		},
	}
}

func NewConnectedFrame() *Frame {
	return &Frame{Command: CmdConnected}
}

func NewSubscribeFrame(destination string) *Frame {
	return &Frame{
		Command: CmdSubscribe,
		Headers: map[string]string{HdrDestination: destination},
	}
}

func NewMessageFrame(destination string, body any) (*Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal message body: %w", err)
	}
	return &Frame{
		Command: CmdMessage,
		Headers: map[string]string{HdrDestination: destination},
		Body:    data,
	}, nil
}

func NewSendFrame(destination string, body any) (*Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal send body: %w", err)
	}
	return &Frame{
		Command: CmdSend,
		Headers: map[string]string{HdrDestination: destination},
		Body:    data,
	}, nil
}

func NewErrorFrame(message string) *Frame {
	return &Frame{
		Command: CmdError,
		Headers: map[string]string{HdrMessage: message},
	}
}

// Marshal encodes a frame for websocket transport.
func Marshal(f *Frame) (websocket.MessageType, []byte, error) {
	data, err := json.Marshal(f)
	return websocket.MessageText, data, err
}

// Unmarshal decodes a websocket message into a frame.
func Unmarshal(typ websocket.MessageType, data []byte) (*Frame, error) {
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("wsproto: unsupported websocket message type: %v", typ)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wsproto: decode frame: %w", err)
	}
	if f.Command == "" {
		return nil, fmt.Errorf("wsproto: frame missing command")
	}
	return &f, nil
}

// Write marshals and writes a frame on conn.
func Write(ctx context.Context, conn *websocket.Conn, f *Frame) error {
	typ, data, err := Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, typ, data)
}

// Read reads and unmarshals the next frame from conn.
func Read(ctx context.Context, conn *websocket.Conn) (*Frame, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Unmarshal(typ, data)
}
