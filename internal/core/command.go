package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage persists a message and fans it out to the room.
	CommandSendMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
)

func (k CommandKind) String() string {
	switch k {
	case CommandSendMessage:
		return "send_message"
	case CommandJoinRoom:
		return "join_room"
	case CommandLeaveRoom:
		return "leave_room"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
// For CommandSendMessage, Message.Room and Message.Sender come from the
// client payload and are validated by the hub.
type Command struct {
	Kind    CommandKind
	Room    string
	Message Message
}
