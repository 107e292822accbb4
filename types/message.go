package types

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single utterance exchanged between agents during a group
// chat or a handoff conversation.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"` // empty means broadcast
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a generated id and current timestamp.
func NewMessage(from, to, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Participant describes one agent taking part in a group chat.
type Participant struct {
	ID           string         `json:"id"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Priority     int            `json:"priority"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
