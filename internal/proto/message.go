package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello       = "hello"
	InboundTypeJoinRoom    = "joinRoom"
	InboundTypeLeaveRoom   = "leaveRoom"
	InboundTypeSendMessage = "sendMessage"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNewMessage = "newMessage"
)

// HelloData is sent by the client to introduce itself.
type HelloData struct {
	User     string `json:"user,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// RoomData names the room of a joinRoom or leaveRoom request.
type RoomData struct {
	RoomID string `json:"roomId"`
}

// SendMessageData is a chat message from the client. Sender is taken as
// given; the server does not derive it from the connection.
type SendMessageData struct {
	RoomID   string  `json:"roomId"`
	Sender   string  `json:"sender"`
	Text     string  `json:"text,omitempty"`
	FileURL  *string `json:"fileUrl,omitempty"`
	FileName *string `json:"fileName,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessageData is a persisted chat message as seen by clients, both in
// newMessage events and in REST history. Absent attachments encode as null.
type MessageData struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	FileURL   *string   `json:"fileUrl"`
	FileName  *string   `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
