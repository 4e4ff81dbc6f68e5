package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/proto"
)

// Conn is a realtime connection to the chat server.
type Conn struct {
	ws  *websocket.Conn
	log *zerolog.Logger
}

// frame is an outbound server envelope with its payload left undecoded.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// Dial connects to url and introduces the client with hello.
func Dial(ctx context.Context, url string, hello proto.HelloData, logger *zerolog.Logger) (*Conn, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Conn{ws: ws, log: logger}
	if hello.Protocol == 0 {
		hello.Protocol = proto.ProtocolVersion
	}
	if err := c.write(ctx, proto.InboundTypeHello, hello); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "hello failed")
		return nil, err
	}
	return c, nil
}

// JoinRoom subscribes the connection to roomID. The server sends no ack.
func (c *Conn) JoinRoom(ctx context.Context, roomID string) error {
	return c.write(ctx, proto.InboundTypeJoinRoom, proto.RoomData{RoomID: roomID})
}

// LeaveRoom unsubscribes the connection from roomID.
func (c *Conn) LeaveRoom(ctx context.Context, roomID string) error {
	return c.write(ctx, proto.InboundTypeLeaveRoom, proto.RoomData{RoomID: roomID})
}

// SendMessage submits a message; it comes back as a newMessage event to
// every member of the room.
func (c *Conn) SendMessage(ctx context.Context, msg proto.SendMessageData) error {
	return c.write(ctx, proto.InboundTypeSendMessage, msg)
}

// Listen reads server frames until the connection closes, calling
// onMessage for every newMessage event and onError for protocol errors.
// A normal closure returns nil.
func (c *Conn) Listen(ctx context.Context, onMessage func(proto.MessageData), onError func(proto.Error)) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch {
		case f.Type == proto.OutboundTypeError && f.Error != nil:
			if onError != nil {
				onError(*f.Error)
			}
		case f.Type == proto.OutboundTypeEvent && f.Event == proto.EventNewMessage:
			var msg proto.MessageData
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				c.log.Warn().Err(err).Msg("malformed newMessage payload")
				continue
			}
			if onMessage != nil {
				onMessage(msg)
			}
		default:
			c.log.Debug().Str("type", f.Type).Str("event", f.Event).Msg("ignoring frame")
		}
	}
}

// Close closes the connection normally.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Conn) write(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, c.ws, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
