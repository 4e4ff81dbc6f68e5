// Package client implements the user-facing side of a chat session: room
// selection, history loading, lazy joining and rendering of live messages.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/proto"
)

var (
	// ErrNoActiveRoom is returned by Send before any room is selected.
	ErrNoActiveRoom = errors.New("no active room")
	// ErrEmptyMessage is returned by Send when there is neither text nor a
	// pending attachment.
	ErrEmptyMessage = errors.New("message must have text or an attachment")
)

// State is the position of a session in its lifecycle.
type State int

const (
	// StateIdle means no conversation is open.
	StateIdle State = iota
	// StateRoomSelected means a room is open and its history was requested.
	StateRoomSelected
	// StateJoined means the connection has joined the open room.
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRoomSelected:
		return "room_selected"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Realtime is the subset of the WebSocket connection a session drives.
type Realtime interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, msg proto.SendMessageData) error
}

// HistoryFetcher loads the recent messages of a room, oldest first.
type HistoryFetcher interface {
	History(ctx context.Context, roomID string) ([]proto.MessageData, error)
}

// Renderer displays the open conversation.
type Renderer interface {
	// Reset clears the view for a newly opened conversation.
	Reset(title string)
	Render(msg proto.MessageData)
}

// Partner identifies a user; the session's own identity uses it too.
type Partner struct {
	ID       int64
	Username string
}

// Attachment is an uploaded file reference to embed in the next send.
type Attachment struct {
	URL  string
	Name string
}

// Options tune membership handling. The zero value joins lazily on the
// first send and never leaves a room when switching conversations.
type Options struct {
	JoinOnSelect  bool
	LeaveOnSwitch bool
}

// Session is the chat state of one signed-in user.
type Session struct {
	self    Partner
	rt      Realtime
	history HistoryFetcher
	view    Renderer
	opts    Options
	log     *zerolog.Logger

	mu      sync.Mutex
	state   State
	room    string
	joined  map[string]struct{}
	pending *Attachment

	// selection counts SelectRoom calls; early buffers live messages for
	// the active room while its history is loading.
	selection uint64
	loading   bool
	early     []proto.MessageData
}

// NewSession creates an idle session for self.
func NewSession(self Partner, rt Realtime, history HistoryFetcher, view Renderer, opts Options, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		self:    self,
		rt:      rt,
		history: history,
		view:    view,
		opts:    opts,
		log:     logger,
		joined:  make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveRoom returns the open room id, or "" when idle.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Joined returns the rooms this session has joined, in no order.
func (s *Session) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.joined))
	for r := range s.joined {
		rooms = append(rooms, r)
	}
	return rooms
}

// SelectPartner opens the private room shared with p.
func (s *Session) SelectPartner(ctx context.Context, p Partner) error {
	room := core.ResolveRoomID(strconv.FormatInt(s.self.ID, 10), strconv.FormatInt(p.ID, 10))
	return s.SelectRoom(ctx, room, p.Username)
}

// SelectGlobal opens the shared global room.
func (s *Session) SelectGlobal(ctx context.Context) error {
	return s.SelectRoom(ctx, core.GlobalRoom, core.GlobalRoom)
}

// SelectRoom makes roomID the active room and renders its history. A
// history failure leaves the room selected with an empty view. The
// history is fetched without holding the session lock; live messages
// for the room that arrive meanwhile are rendered after it.
func (s *Session) SelectRoom(ctx context.Context, roomID, title string) error {
	s.mu.Lock()
	if s.opts.LeaveOnSwitch && s.room != "" && s.room != roomID {
		if err := s.leaveLocked(ctx, s.room); err != nil {
			s.log.Warn().Err(err).Str("room", s.room).Msg("failed to leave previous room")
		}
	}

	s.room = roomID
	s.state = StateRoomSelected
	if _, ok := s.joined[roomID]; ok {
		s.state = StateJoined
	}
	s.view.Reset(title)
	s.selection++
	selection := s.selection
	s.loading = true
	s.early = nil

	var joinErr error
	if s.opts.JoinOnSelect {
		joinErr = s.joinLocked(ctx)
	}
	s.mu.Unlock()

	history, err := s.history.History(ctx, roomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection != selection {
		// Another room was selected while this history was loading.
		return joinErr
	}
	early := s.early
	s.loading = false
	s.early = nil

	seen := make(map[string]struct{}, len(history))
	if err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("failed to load history")
	} else {
		for _, msg := range history {
			if msg.RoomID == roomID {
				seen[msg.ID] = struct{}{}
				s.view.Render(msg)
			}
		}
	}
	for _, msg := range early {
		if _, dup := seen[msg.ID]; !dup {
			s.view.Render(msg)
		}
	}

	if err != nil {
		return errors.Join(fmt.Errorf("load history: %w", err), joinErr)
	}
	return joinErr
}

// Attach sets the file reference sent with the next message, replacing
// any previous one.
func (s *Session) Attach(a Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &a
}

// Pending returns the attachment waiting for the next send, if any.
func (s *Session) Pending() *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	a := *s.pending
	return &a
}

// Send joins the active room if needed and sends text plus the pending
// attachment. The attachment is cleared whatever the outcome.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil

	if s.room == "" {
		return ErrNoActiveRoom
	}
	text = strings.TrimSpace(text)
	if text == "" && pending == nil {
		return ErrEmptyMessage
	}

	if err := s.joinLocked(ctx); err != nil {
		return err
	}

	msg := proto.SendMessageData{RoomID: s.room, Sender: s.self.Username, Text: text}
	if pending != nil {
		url, name := pending.URL, pending.Name
		msg.FileURL = &url
		msg.FileName = &name
	}
	if err := s.rt.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Leave leaves the active room without closing it.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == "" {
		return ErrNoActiveRoom
	}
	if err := s.leaveLocked(ctx, s.room); err != nil {
		return err
	}
	s.state = StateRoomSelected
	return nil
}

// HandleIncoming renders msg if it belongs to the active room and reports
// whether it did. Messages for other rooms are dropped.
func (s *Session) HandleIncoming(msg proto.MessageData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == "" || msg.RoomID != s.room {
		s.log.Trace().Str("room", msg.RoomID).Str("active", s.room).Msg("dropping message for inactive room")
		return false
	}
	if s.loading {
		s.early = append(s.early, msg)
		return true
	}
	s.view.Render(msg)
	return true
}

func (s *Session) joinLocked(ctx context.Context) error {
	if _, ok := s.joined[s.room]; ok {
		s.state = StateJoined
		return nil
	}
	if err := s.rt.JoinRoom(ctx, s.room); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	s.joined[s.room] = struct{}{}
	s.state = StateJoined
	return nil
}

func (s *Session) leaveLocked(ctx context.Context, room string) error {
	if _, ok := s.joined[room]; !ok {
		return nil
	}
	if err := s.rt.LeaveRoom(ctx, room); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	delete(s.joined, room)
	return nil
}
