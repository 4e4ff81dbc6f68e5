package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/instalite-chat/internal/proto"
)

type fakeRealtime struct {
	mu      sync.Mutex
	calls   []string
	sent    []proto.SendMessageData
	sendErr error
}

func (f *fakeRealtime) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "join:"+roomID)
	return nil
}

func (f *fakeRealtime) LeaveRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leave:"+roomID)
	return nil
}

func (f *fakeRealtime) SendMessage(_ context.Context, msg proto.SendMessageData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send:"+msg.RoomID)
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeHistory struct {
	msgs map[string][]proto.MessageData
	err  error
}

func (f *fakeHistory) History(_ context.Context, roomID string) ([]proto.MessageData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs[roomID], nil
}

type fakeView struct {
	title    string
	resets   int
	rendered []proto.MessageData
}

func (f *fakeView) Reset(title string) {
	f.title = title
	f.resets++
	f.rendered = nil
}

func (f *fakeView) Render(msg proto.MessageData) {
	f.rendered = append(f.rendered, msg)
}

type fixture struct {
	rt      *fakeRealtime
	history *fakeHistory
	view    *fakeView
	session *Session
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		rt:      &fakeRealtime{},
		history: &fakeHistory{msgs: map[string][]proto.MessageData{}},
		view:    &fakeView{},
	}
	f.session = NewSession(Partner{ID: 1, Username: "alice"}, f.rt, f.history, f.view, opts, nil)
	return f
}

var (
	bob   = Partner{ID: 2, Username: "bob"}
	carol = Partner{ID: 3, Username: "carol"}
)

func Test_Send_Without_Room(t *testing.T) {
	f := newFixture(Options{})
	require.Equal(t, StateIdle, f.session.State())
	require.ErrorIs(t, f.session.Send(context.Background(), "hello"), ErrNoActiveRoom)
	require.Empty(t, f.rt.calls)
}

func Test_SelectPartner_Loads_History_Without_Joining(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	f.history.msgs["1_2"] = []proto.MessageData{
		{ID: "a", RoomID: "1_2", Sender: "bob", Text: "hey"},
		{ID: "b", RoomID: "1_2", Sender: "alice", Text: "yo"},
	}

	req.NoError(f.session.SelectPartner(context.Background(), bob))
	req.Equal("1_2", f.session.ActiveRoom())
	req.Equal(StateRoomSelected, f.session.State())
	req.Equal("bob", f.view.title)
	req.Len(f.view.rendered, 2)
	req.Equal("hey", f.view.rendered[0].Text)
	req.Empty(f.rt.calls, "selection must not join lazily-joined rooms")
}

func Test_Room_ID_Is_Symmetric_Across_Sessions(t *testing.T) {
	a := newFixture(Options{})
	b := NewSession(bob, &fakeRealtime{}, &fakeHistory{}, &fakeView{}, Options{}, nil)

	require.NoError(t, a.session.SelectPartner(context.Background(), bob))
	require.NoError(t, b.SelectPartner(context.Background(), Partner{ID: 1, Username: "alice"}))
	require.Equal(t, a.session.ActiveRoom(), b.ActiveRoom())
}

func Test_First_Send_Joins_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	ctx := context.Background()
	req.NoError(f.session.SelectPartner(ctx, bob))

	req.NoError(f.session.Send(ctx, "  hi  "))
	req.NoError(f.session.Send(ctx, "again"))

	req.Equal([]string{"join:1_2", "send:1_2", "send:1_2"}, f.rt.calls)
	req.Equal(StateJoined, f.session.State())
	req.Equal("hi", f.rt.sent[0].Text)
	req.Equal("alice", f.rt.sent[0].Sender)
	req.Nil(f.rt.sent[0].FileURL)
}

func Test_Empty_Message_Is_Rejected_Before_Joining(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	require.NoError(t, f.session.SelectPartner(ctx, bob))

	require.ErrorIs(t, f.session.Send(ctx, "   "), ErrEmptyMessage)
	require.Empty(t, f.rt.calls)
	require.Equal(t, StateRoomSelected, f.session.State())
}

func Test_Attachment_Is_Sent_Then_Cleared(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	ctx := context.Background()
	req.NoError(f.session.SelectPartner(ctx, bob))

	f.session.Attach(Attachment{URL: "/uploads/x-cat.png", Name: "cat.png"})
	req.NotNil(f.session.Pending())
	req.NoError(f.session.Send(ctx, ""))

	req.Len(f.rt.sent, 1)
	req.Equal("/uploads/x-cat.png", *f.rt.sent[0].FileURL)
	req.Equal("cat.png", *f.rt.sent[0].FileName)
	req.Equal("", f.rt.sent[0].Text)
	req.Nil(f.session.Pending())

	req.ErrorIs(f.session.Send(ctx, ""), ErrEmptyMessage, "attachment must not be reused")
}

func Test_Attachment_Cleared_After_Failed_Send(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	ctx := context.Background()
	req.NoError(f.session.SelectPartner(ctx, bob))

	boom := errors.New("connection lost")
	f.rt.sendErr = boom
	f.session.Attach(Attachment{URL: "/uploads/a", Name: "a"})

	req.ErrorIs(f.session.Send(ctx, "with file"), boom)
	req.Nil(f.session.Pending())
}

func Test_HandleIncoming_Drops_Other_Rooms(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	req.False(f.session.HandleIncoming(proto.MessageData{RoomID: "1_2", Text: "early"}), "idle session renders nothing")

	req.NoError(f.session.SelectPartner(context.Background(), bob))
	req.True(f.session.HandleIncoming(proto.MessageData{RoomID: "1_2", Text: "mine"}))
	req.False(f.session.HandleIncoming(proto.MessageData{RoomID: "1_3", Text: "elsewhere"}))

	req.Len(f.view.rendered, 1)
	req.Equal("mine", f.view.rendered[0].Text)
}

func Test_Switching_Rooms_Keeps_Membership_By_Default(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	ctx := context.Background()

	req.NoError(f.session.SelectPartner(ctx, bob))
	req.NoError(f.session.Send(ctx, "hi bob"))
	req.NoError(f.session.SelectPartner(ctx, carol))
	req.Equal(StateRoomSelected, f.session.State())
	req.NoError(f.session.Send(ctx, "hi carol"))

	joined := f.session.Joined()
	sort.Strings(joined)
	req.Equal([]string{"1_2", "1_3"}, joined)
	req.NotContains(f.rt.calls, "leave:1_2")

	// Returning to a joined room skips straight to joined.
	req.NoError(f.session.SelectPartner(ctx, bob))
	req.Equal(StateJoined, f.session.State())
}

func Test_LeaveOnSwitch_And_JoinOnSelect(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{JoinOnSelect: true, LeaveOnSwitch: true})
	ctx := context.Background()

	req.NoError(f.session.SelectPartner(ctx, bob))
	req.Equal(StateJoined, f.session.State())
	req.NoError(f.session.SelectGlobal(ctx))

	req.Equal([]string{"join:1_2", "leave:1_2", "join:global"}, f.rt.calls)
	req.Equal([]string{"global"}, f.session.Joined())
}

func Test_Explicit_Leave(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	ctx := context.Background()

	req.ErrorIs(f.session.Leave(ctx), ErrNoActiveRoom)
	req.NoError(f.session.SelectGlobal(ctx))
	req.NoError(f.session.Leave(ctx), "leaving an unjoined room is a no-op")
	req.Empty(f.rt.calls)

	req.NoError(f.session.Send(ctx, "hello"))
	req.NoError(f.session.Leave(ctx))
	req.Equal(StateRoomSelected, f.session.State())
	req.Equal([]string{"join:global", "send:global", "leave:global"}, f.rt.calls)
}

func Test_History_Failure_Keeps_Room_Selected(t *testing.T) {
	req := require.New(t)
	f := newFixture(Options{})
	f.history.err = errors.New("500")

	err := f.session.SelectPartner(context.Background(), bob)
	req.Error(err)
	req.ErrorIs(err, f.history.err)
	req.Equal("1_2", f.session.ActiveRoom())
	req.Equal(StateRoomSelected, f.session.State())
	req.Equal(1, f.view.resets)
	req.Empty(f.view.rendered)
}

// gatedHistory blocks each History call until its room's gate is closed.
type gatedHistory struct {
	msgs    map[string][]proto.MessageData
	gates   map[string]chan struct{}
	started chan string
}

func (g *gatedHistory) History(ctx context.Context, roomID string) ([]proto.MessageData, error) {
	g.started <- roomID
	select {
	case <-g.gates[roomID]:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.msgs[roomID], nil
}

func Test_Incoming_During_History_Load_Is_Not_Blocked(t *testing.T) {
	req := require.New(t)
	view := &fakeView{}
	history := &gatedHistory{
		msgs: map[string][]proto.MessageData{
			"1_2": {{ID: "a", RoomID: "1_2", Sender: "bob", Text: "old"}},
		},
		gates:   map[string]chan struct{}{"1_2": make(chan struct{})},
		started: make(chan string, 1),
	}
	session := NewSession(Partner{ID: 1, Username: "alice"}, &fakeRealtime{}, history, view, Options{}, nil)

	done := make(chan error, 1)
	go func() { done <- session.SelectPartner(context.Background(), bob) }()
	req.Equal("1_2", <-history.started)

	delivered := make(chan bool, 1)
	go func() {
		delivered <- session.HandleIncoming(proto.MessageData{ID: "b", RoomID: "1_2", Sender: "bob", Text: "live"})
	}()
	select {
	case ok := <-delivered:
		req.True(ok)
	case <-time.After(time.Second):
		t.Fatal("HandleIncoming blocked while history was loading")
	}
	// Already part of the history page once it arrives.
	req.True(session.HandleIncoming(proto.MessageData{ID: "a", RoomID: "1_2", Sender: "bob", Text: "old"}))

	close(history.gates["1_2"])
	req.NoError(<-done)

	texts := make([]string, 0, len(view.rendered))
	for _, m := range view.rendered {
		texts = append(texts, m.Text)
	}
	req.Equal([]string{"old", "live"}, texts)

	req.True(session.HandleIncoming(proto.MessageData{ID: "c", RoomID: "1_2", Sender: "bob", Text: "later"}))
	req.Len(view.rendered, 3)
}

func Test_Superseded_History_Is_Not_Rendered(t *testing.T) {
	req := require.New(t)
	view := &fakeView{}
	history := &gatedHistory{
		msgs: map[string][]proto.MessageData{
			"1_2": {{ID: "a", RoomID: "1_2", Sender: "bob", Text: "from bob"}},
			"1_3": {{ID: "b", RoomID: "1_3", Sender: "carol", Text: "from carol"}},
		},
		gates: map[string]chan struct{}{
			"1_2": make(chan struct{}),
			"1_3": make(chan struct{}),
		},
		started: make(chan string, 2),
	}
	session := NewSession(Partner{ID: 1, Username: "alice"}, &fakeRealtime{}, history, view, Options{}, nil)

	first := make(chan error, 1)
	go func() { first <- session.SelectPartner(context.Background(), bob) }()
	req.Equal("1_2", <-history.started)

	close(history.gates["1_3"])
	req.NoError(session.SelectPartner(context.Background(), carol))
	req.Equal("1_3", <-history.started)

	close(history.gates["1_2"])
	req.NoError(<-first)

	req.Equal("1_3", session.ActiveRoom())
	req.Equal(carol.Username, view.title)
	req.Len(view.rendered, 1)
	req.Equal("from carol", view.rendered[0].Text)
}
