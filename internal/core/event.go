package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventNewMessage carries a persisted message to room members.
	EventNewMessage EventKind = iota
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	Message Message
}
