package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory MessageStore for hub tests.
type memStore struct {
	mu   sync.Mutex
	seq  int
	msgs []Message
	err  error
}

func (m *memStore) Append(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Message{}, m.err
	}
	m.seq++
	msg.ID = fmt.Sprintf("m%d", m.seq)
	msg.CreatedAt = time.Now()
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

var errDiskFull = errors.New("disk full")

func startHub(t *testing.T, st MessageStore) Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(st, nil)
	go hub.Run(ctx)
	return hub
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event, wait time.Duration) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok && ev != nil {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(wait):
	}
}

// waitMembers blocks until the hub reports n members in room.
func waitMembers(t *testing.T, hub Hub, room string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := hub.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.Rooms[room] == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %q never reached %d members", room, n)
}
