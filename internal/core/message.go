package core

import "time"

// Message is the domain model for a chat message.
// FileURL and FileName are either both nil or both set.
type Message struct {
	ID        string
	Room      string
	Sender    string
	Text      string
	FileURL   *string
	FileName  *string
	CreatedAt time.Time
}

// HasAttachment reports whether the message references an uploaded file.
func (m Message) HasAttachment() bool {
	return m.FileURL != nil
}
