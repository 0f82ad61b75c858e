package session

import (
	"context"
	"time"

	"github.com/sema-ai/semachat/core"
)

// Default lifecycle settings, matching the orchestrator's expectations.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultMaxHistory    = 100
	DefaultSweepInterval = 5 * time.Minute
)

// Store persists sessions and their ordered message history.
//
// Contract:
//   - Ensure creates at most one session per id under concurrent calls
//   - Append is atomic per session: concurrent appends to the same id never
//     lose a message, and eviction is applied inside the same operation
//   - Messages returns stored history in append order, optionally limited to
//     the most recent n
//   - Delete reports whether the session existed
//   - Ping reports store reachability for composite health checks.
type Store interface {
	Ensure(ctx context.Context, sessionID string) error
	Append(ctx context.Context, sessionID string, msg core.Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]core.Message, error)
	Get(ctx context.Context, sessionID string) (*core.Session, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	ListActive(ctx context.Context) ([]core.SessionInfo, error)
	Ping(ctx context.Context) error
	Close() error
}
