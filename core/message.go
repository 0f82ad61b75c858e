package core

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Only these three appear in stored history; backends decide
// how to frame them for their provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational turn. After it has been appended to a
// session it must be treated as immutable.
type Message struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message stamped with the current UTC time.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// NewID returns a fresh UUID string, used for message identifiers.
func NewID() string { return uuid.NewString() }

// StreamChunk is one increment of an in-progress generation. ChunkID is
// monotonically increasing per MessageID starting at 0. Exactly one chunk per
// MessageID carries IsFinal=true with empty content; it terminates the
// stream. A stream that aborts mid-generation emits no final chunk.
type StreamChunk struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	ChunkID   int    `json:"chunk_id"`
	IsFinal   bool   `json:"is_final"`
}

// SessionInfo is the summary row returned when enumerating live sessions.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Created      time.Time `json:"created_at"`
	Updated      time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
