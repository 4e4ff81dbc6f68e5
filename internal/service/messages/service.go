package messages

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/store"
)

// DefaultHistoryLimit is the number of messages returned by History when
// no other cap is configured.
const DefaultHistoryLimit = 50

var (
	// ErrValidation is returned when a message lacks a room or sender.
	ErrValidation = errors.New("invalid message")
	// ErrStorage wraps failures of the persistence backend.
	ErrStorage = errors.New("message storage failure")
)

// Service is the append-only message log used by the hub and the
// history endpoint.
type Service struct {
	store    store.MessageStore
	validate *validator.Validate
	limit    int
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithHistoryLimit caps the number of messages History returns.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a message service backed by st.
func New(st store.MessageStore, opts ...Option) *Service {
	s := &Service{
		store:    st,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limit:    DefaultHistoryLimit,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HistoryLimit returns the configured history cap.
func (s *Service) HistoryLimit() int {
	return s.limit
}

type appendInput struct {
	Room   string `validate:"required"`
	Sender string `validate:"required"`
}

type historyInput struct {
	Room string `validate:"required"`
}

// Append validates and persists msg, assigning its id and creation time.
// Text may be empty even without an attachment.
func (s *Service) Append(ctx context.Context, msg core.Message) (core.Message, error) {
	if err := s.validate.StructCtx(ctx, appendInput{Room: msg.Room, Sender: msg.Sender}); err != nil {
		return core.Message{}, fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}

	fileURL, fileName := normalizeAttachment(msg.FileURL, msg.FileName)
	rec := &store.Message{
		ID:        uuid.NewString(),
		RoomID:    msg.Room,
		Sender:    msg.Sender,
		Text:      msg.Text,
		FileURL:   fileURL,
		FileName:  fileName,
		CreatedAt: s.stamp(msg.Room),
	}
	if err := s.store.SaveMessage(ctx, rec); err != nil {
		return core.Message{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return toCore(rec), nil
}

// History returns up to limit of the room's most recent messages in
// ascending creation order. A non-positive limit, or one above the
// configured cap, is replaced by the cap.
func (s *Service) History(ctx context.Context, room string, limit int) ([]core.Message, error) {
	if err := s.validate.StructCtx(ctx, historyInput{Room: room}); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	recs, err := s.store.ListRecentMessages(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	msgs := lo.Map(recs, func(rec *store.Message, _ int) core.Message {
		return toCore(rec)
	})
	return lo.Reverse(msgs), nil
}

// stamp returns the creation time for a new message in room, never
// earlier than the previous one handed out for that room.
func (s *Service) stamp(room string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if prev, ok := s.last[room]; ok && now.Before(prev) {
		now = prev
	}
	s.last[room] = now
	return now
}

// normalizeAttachment enforces that url and name are both nil or both set.
func normalizeAttachment(url, name *string) (*string, *string) {
	if url == nil || strings.TrimSpace(*url) == "" {
		return nil, nil
	}
	u := *url
	if name == nil || strings.TrimSpace(*name) == "" {
		base := path.Base(u)
		return &u, &base
	}
	n := *name
	return &u, &n
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return strings.ToLower(fe.Field()) + " is " + fe.Tag()
	}), ", ")
}

func toCore(rec *store.Message) core.Message {
	return core.Message{
		ID:        rec.ID,
		Room:      rec.RoomID,
		Sender:    rec.Sender,
		Text:      rec.Text,
		FileURL:   rec.FileURL,
		FileName:  rec.FileName,
		CreatedAt: rec.CreatedAt,
	}
}
