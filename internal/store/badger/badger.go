// Package badger implements store.MessageStore on top of BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/store"
)

// MessageStore persists chat messages in BadgerDB.
type MessageStore struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// Options configures the badger backend.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *zerolog.Logger
}

// New opens a badger database.
func New(opts Options) (*MessageStore, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(zerologAdapter{log: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &MessageStore{db: db, seqs: make(map[string]*badger.Sequence)}, nil
}

// seqBandwidth is how many sequence numbers are leased per disk write.
const seqBandwidth = 128

// Close releases the leased sequences and closes the database.
func (s *MessageStore) Close() error {
	s.mu.Lock()
	var errs []error
	for room, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %q: %w", room, err))
		}
	}
	clear(s.seqs)
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// nextSeq returns the room's next insertion number. Numbers only grow,
// also across restarts, though leased ranges may leave gaps.
func (s *MessageStore) nextSeq(roomID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[roomID]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte(fmt.Sprintf("seq:%x", roomID)), seqBandwidth)
		if err != nil {
			return 0, fmt.Errorf("open sequence: %w", err)
		}
		s.seqs[roomID] = seq
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return n, nil
}

type record struct {
	ID        string  `json:"id"`
	RoomID    string  `json:"room_id"`
	Sender    string  `json:"sender"`
	Text      string  `json:"text"`
	FileURL   *string `json:"file_url,omitempty"`
	FileName  *string `json:"file_name,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// roomPrefix hex-encodes the room id so ids containing ':' cannot
// collide with another room's prefix.
func roomPrefix(roomID string) []byte {
	return []byte(fmt.Sprintf("msg:%x:", roomID))
}

// messageKey is "msg:{hex room}:{19-digit ns timestamp}:{20-digit seq}".
// The zero padding keeps lexicographic order equal to chronological
// order, and seq breaks timestamp ties in insertion order.
func messageKey(roomID string, createdAt time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%x:%019d:%020d", roomID, createdAt.UnixNano(), seq))
}

// SaveMessage stores a message under its room-ordered key.
func (s *MessageStore) SaveMessage(_ context.Context, msg *store.Message) error {
	value, err := json.Marshal(record{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		FileURL:   msg.FileURL,
		FileName:  msg.FileName,
		CreatedAt: msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	seq, err := s.nextSeq(msg.RoomID)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.RoomID, msg.CreatedAt, seq), value)
	})
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// ListRecentMessages walks the room prefix backwards and returns at most
// limit messages, newest first.
func (s *MessageStore) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	messages := make([]*store.Message, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the greatest key <= seek key.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			messages = append(messages, &store.Message{
				ID:        rec.ID,
				RoomID:    rec.RoomID,
				Sender:    rec.Sender,
				Text:      rec.Text,
				FileURL:   rec.FileURL,
				FileName:  rec.FileName,
				CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// zerologAdapter routes badger's internal logging through zerolog.
type zerologAdapter struct {
	log *zerolog.Logger
}

func (a zerologAdapter) Errorf(format string, args ...interface{}) {
	a.log.Error().Str("component", "badger").Msgf(format, args...)
}

func (a zerologAdapter) Warningf(format string, args ...interface{}) {
	a.log.Warn().Str("component", "badger").Msgf(format, args...)
}

func (a zerologAdapter) Infof(format string, args ...interface{}) {
	a.log.Debug().Str("component", "badger").Msgf(format, args...)
}

func (a zerologAdapter) Debugf(format string, args ...interface{}) {
	a.log.Trace().Str("component", "badger").Msgf(format, args...)
}
