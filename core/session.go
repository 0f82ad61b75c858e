package core

import (
	"sync"
	"time"
)

// Session is a keyed conversational container tracking an ordered message
// history. It is safe for concurrent access; all mutation goes through its
// internal lock, which also serializes concurrent appends to the same
// session.
//
// Contract:
//   - Append updates MessageCount and the Updated timestamp atomically
//   - MessageCount always equals the length of the stored history
//   - Eviction keeps the most recent maxHistory messages; a leading system
//     message is pinned and never evicted
//   - Clone returns a deep copy safe for independent use.
type Session struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	Created      time.Time `json:"created_at"`
	Updated      time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	mu           sync.Mutex
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Messages: []Message{}, Created: now, Updated: now}
}

// Append adds a message to the history and applies the eviction policy.
// maxHistory <= 0 disables eviction.
func (s *Session) Append(msg Message, maxHistory int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	if maxHistory > 0 && len(s.Messages) > maxHistory {
		s.Messages = evict(s.Messages, maxHistory)
	}
	s.MessageCount = len(s.Messages)
	s.Updated = time.Now().UTC()
}

// evict trims history to the most recent max messages, preserving a leading
// system message if one is present. Survivor order is never changed.
func evict(messages []Message, max int) []Message {
	if len(messages) <= max {
		return messages
	}
	if messages[0].Role == RoleSystem {
		keep := max - 1
		if keep < 0 {
			keep = 0
		}
		tail := messages[len(messages)-keep:]
		out := make([]Message, 0, max)
		out = append(out, messages[0])
		return append(out, tail...)
	}
	return messages[len(messages)-max:]
}

// Recent returns the stored messages, limited to the most recent n when
// n > 0. The returned slice is a copy.
func (s *Session) Recent(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Info returns a summary snapshot for session listings.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{SessionID: s.ID, Created: s.Created, Updated: s.Updated, MessageCount: s.MessageCount}
}

// LastUpdated returns the time of the most recent mutation.
func (s *Session) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Updated
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := &Session{
		ID:           s.ID,
		Messages:     make([]Message, len(s.Messages)),
		Created:      s.Created,
		Updated:      s.Updated,
		MessageCount: s.MessageCount,
	}
	copy(clone.Messages, s.Messages)
	return clone
}
