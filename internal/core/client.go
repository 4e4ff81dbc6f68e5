package core

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// Client is a connection as seen by the core layer.
// Rooms is owned by the hub goroutine once the client is registered.
type Client struct {
	ID       string
	Name     string
	Commands chan *Command
	Events   chan *Event
	Rooms    map[string]struct{}

	done chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, name string) *Client {
	if name == "" {
		name = id
	}
	return &Client{
		ID:       id,
		Name:     name,
		Commands: make(chan *Command, commandBuffer),
		Events:   make(chan *Event, eventBuffer),
		Rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}
