package backend

import (
	"context"

	"github.com/sema-ai/semachat/core"
)

// ChunkEmitter sequences StreamChunk emission for one message: chunk ids
// increase monotonically from 0 and the terminating final chunk carries
// empty content. Each variant's producer goroutine owns one emitter; it is
// not safe for concurrent use.
type ChunkEmitter struct {
	sessionID string
	messageID string
	next      int
	out       chan<- core.StreamChunk
}

// NewChunkEmitter creates an emitter writing to out for the given message.
func NewChunkEmitter(out chan<- core.StreamChunk, sessionID, messageID string) *ChunkEmitter {
	return &ChunkEmitter{sessionID: sessionID, messageID: messageID, out: out}
}

// Emit sends one content chunk, honoring context cancellation.
func (e *ChunkEmitter) Emit(ctx context.Context, content string) error {
	return e.send(ctx, core.StreamChunk{
		Content:   content,
		SessionID: e.sessionID,
		MessageID: e.messageID,
		ChunkID:   e.next,
	})
}

// Final sends the terminating chunk. Call exactly once, only on success.
func (e *ChunkEmitter) Final(ctx context.Context) error {
	return e.send(ctx, core.StreamChunk{
		SessionID: e.sessionID,
		MessageID: e.messageID,
		ChunkID:   e.next,
		IsFinal:   true,
	})
}

func (e *ChunkEmitter) send(ctx context.Context, chunk core.StreamChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.out <- chunk:
		e.next++
		return nil
	}
}

// MessageID returns the message identifier the emitter stamps on chunks.
func (e *ChunkEmitter) MessageID() string { return e.messageID }

// Emitted returns the number of chunks sent so far, final chunk included.
func (e *ChunkEmitter) Emitted() int { return e.next }
