package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/logging"
)

// InMemoryStore is a volatile Store implementation keeping sessions in a
// process-local map. The map lock only guards membership; each session
// serializes its own appends, so writes to different sessions never contend.
// A background sweep removes sessions idle past the TTL.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session

	ttl        time.Duration
	maxHistory int
	logger     logging.Logger

	sweepOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ Store = (*InMemoryStore)(nil)

// InMemoryOptions configure an InMemoryStore.
type InMemoryOptions struct {
	// TTL after which an idle session is eligible for removal. Zero disables
	// expiry.
	TTL time.Duration
	// MaxHistory bounds per-session history; oldest messages are evicted
	// first, a leading system message is pinned. Zero disables eviction.
	MaxHistory int
	// SweepInterval controls how often the expiry sweep runs.
	SweepInterval time.Duration
	Logger        logging.Logger
}

// NewInMemoryStore constructs an empty in-memory session store and starts
// its expiry sweep.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{
		TTL:           DefaultTTL,
		MaxHistory:    DefaultMaxHistory,
		SweepInterval: DefaultSweepInterval,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &InMemoryStore{
		sessions:   make(map[string]*core.Session),
		ttl:        opts.TTL,
		maxHistory: opts.MaxHistory,
		logger:     opts.Logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if s.ttl > 0 {
		s.sweepOnce.Do(func() { go s.sweep(opts.SweepInterval) })
	} else {
		close(s.done)
	}
	return s
}

// Ensure creates the session if absent. Safe under concurrent calls for the
// same id: the double-checked write path creates at most once.
func (s *InMemoryStore) Ensure(_ context.Context, sessionID string) error {
	s.mu.RLock()
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = core.NewSession(sessionID)
	}
	return nil
}

// Append ensures the session exists and appends under the session's own
// lock, applying eviction in the same step.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	if err := s.Ensure(ctx, sessionID); err != nil {
		return err
	}
	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()
	if sess == nil {
		// Deleted between Ensure and the read; recreate and retry once.
		if err := s.Ensure(ctx, sessionID); err != nil {
			return err
		}
		s.mu.RLock()
		sess = s.sessions[sessionID]
		s.mu.RUnlock()
	}
	sess.Append(msg, s.maxHistory)
	return nil
}

// Messages returns stored history in append order, limited to the most
// recent n when limit > 0.
func (s *InMemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Recent(limit), nil
}

// Get returns a deep copy of the session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the session, reporting whether it existed.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok, nil
}

// ListActive enumerates live sessions sorted by id for stable output.
func (s *InMemoryStore) ListActive(_ context.Context) ([]core.SessionInfo, error) {
	s.mu.RLock()
	infos := make([]core.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.Info())
	}
	s.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos, nil
}

// Ping always succeeds for the in-process store.
func (s *InMemoryStore) Ping(context.Context) error { return nil }

// Close stops the expiry sweep. Idempotent via the closed stop channel.
func (s *InMemoryStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

// sweep periodically removes sessions idle past the TTL.
func (s *InMemoryStore) sweep(interval time.Duration) {
	defer close(s.done)
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired(time.Now())
		}
	}
}

func (s *InMemoryStore) removeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUpdated()) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed)
	}
}
