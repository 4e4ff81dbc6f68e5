package core

import (
	"context"

	"github.com/rs/zerolog"
)

// MessageStore persists messages on behalf of the hub. Append assigns the
// message id and creation time and returns the stored record.
type MessageStore interface {
	Append(ctx context.Context, msg Message) (Message, error)
}

// Hub routes client commands to rooms. Room membership lives only in the
// hub goroutine and disappears when a client is unregistered.
type Hub interface {
	Run(ctx context.Context)
	RegisterClient(c *Client)
	UnregisterClient(c *Client)
	// Stats returns a snapshot of connected clients and room sizes.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time view of hub membership.
type Stats struct {
	Clients int            `json:"clients"`
	Rooms   map[string]int `json:"rooms"`
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

type hub struct {
	store MessageStore
	log   *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	persisted  chan Message
	stats      chan chan Stats
	stopped    chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]*Room
}

// NewHub creates a hub that persists messages through st.
func NewHub(st MessageStore, logger *zerolog.Logger) Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &hub{
		store:      st,
		log:        logger,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		commands:   make(chan clientCommand, 256),
		persisted:  make(chan Message, 256),
		stats:      make(chan chan Stats),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
	}
}

// RegisterClient starts routing the client's commands.
func (h *hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient drops every membership of the client and closes its
// Events channel.
func (h *hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Stats asks the hub loop for a membership snapshot.
func (h *hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.stopped:
		return Stats{}, ErrHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *hub) snapshot() Stats {
	rooms := make(map[string]int, len(h.rooms))
	for name, room := range h.rooms {
		rooms[name] = room.Len()
	}
	return Stats{Clients: len(h.clients), Rooms: rooms}
}

// Run processes hub events until ctx is cancelled.
func (h *hub) Run(ctx context.Context) {
	defer close(h.stopped)

	// Sends already accepted are persisted even if the hub or the sender
	// goes away.
	persistCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.pump(c)
			h.log.Debug().Str("client_id", c.ID).Str("name", c.Name).Msg("client registered")
		case c := <-h.unregister:
			h.removeClient(c)
		case cc := <-h.commands:
			h.handle(persistCtx, cc)
		case msg := <-h.persisted:
			h.broadcast(msg)
		case reply := <-h.stats:
			reply <- h.snapshot()
		}
	}
}

// pump forwards a client's commands into the hub loop, preserving order.
func (h *hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.stopped:
				return
			}
		case <-c.done:
			return
		case <-h.stopped:
			return
		}
	}
}

func (h *hub) handle(ctx context.Context, cc clientCommand) {
	_, registered := h.clients[cc.client]

	switch cc.cmd.Kind {
	case CommandJoinRoom:
		if !registered || cc.cmd.Room == "" {
			return
		}
		h.join(cc.client, cc.cmd.Room)
	case CommandLeaveRoom:
		if !registered || cc.cmd.Room == "" {
			return
		}
		h.leave(cc.client, cc.cmd.Room)
	case CommandSendMessage:
		// A send queued before the client disconnected is still delivered.
		h.send(ctx, cc.client, cc.cmd.Message)
	default:
		h.log.Warn().Str("client_id", cc.client.ID).Stringer("kind", cc.cmd.Kind).Msg("unknown command")
	}
}

func (h *hub) join(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	if room.AddClient(c) {
		c.Rooms[name] = struct{}{}
		h.log.Debug().Str("client_id", c.ID).Str("room", name).Int("members", room.Len()).Msg("joined room")
	}
}

func (h *hub) leave(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	if room.RemoveClient(c) {
		delete(c.Rooms, name)
		h.log.Debug().Str("client_id", c.ID).Str("room", name).Msg("left room")
	}
	if room.Empty() {
		delete(h.rooms, name)
	}
}

func (h *hub) send(ctx context.Context, c *Client, msg Message) {
	if msg.Room == "" || msg.Sender == "" {
		h.log.Debug().Str("client_id", c.ID).Str("room", msg.Room).Str("sender", msg.Sender).Msg("dropping message without room or sender")
		return
	}
	go h.persist(ctx, c.ID, msg)
}

func (h *hub) persist(ctx context.Context, clientID string, msg Message) {
	stored, err := h.store.Append(ctx, msg)
	if err != nil {
		h.log.Error().Err(err).Str("client_id", clientID).Str("room", msg.Room).Msg("failed to persist message")
		return
	}
	select {
	case h.persisted <- stored:
	case <-h.stopped:
	}
}

// broadcast fans a persisted message out to the room's current members.
func (h *hub) broadcast(msg Message) {
	room, ok := h.rooms[msg.Room]
	if !ok {
		return
	}
	dropped := room.Broadcast(&Event{Kind: EventNewMessage, Room: msg.Room, Message: msg})
	for _, c := range dropped {
		h.log.Warn().Str("client_id", c.ID).Str("room", msg.Room).Str("message_id", msg.ID).Msg("slow consumer, event dropped")
	}
}

func (h *hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for name := range c.Rooms {
		h.leave(c, name)
	}
	delete(h.clients, c)
	close(c.done)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *hub) shutdown() {
	for c := range h.clients {
		h.removeClient(c)
	}
}
