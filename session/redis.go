package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/logging"
)

const redisKeyPrefix = "session:"

// RedisStore persists sessions as JSON values under "session:<id>" keys.
// Expiry is delegated to Redis native TTLs (every write refreshes the TTL),
// so the store runs no sweep of its own. Appends are serialized per session
// key with a keyed mutex; this store assumes a single writing process, the
// deployment shape of the original system.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxHistory int
	logger     logging.Logger
	locks      keyedMutex
}

var _ Store = (*RedisStore)(nil)

// RedisOptions configure a RedisStore.
type RedisOptions struct {
	TTL        time.Duration
	MaxHistory int
	Logger     logging.Logger
}

// NewRedisStore connects to the given redis URL
// (redis://[:password@]host:port[/db]) and verifies reachability.
func NewRedisStore(ctx context.Context, url string, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	opts := RedisOptions{TTL: DefaultTTL, MaxHistory: DefaultMaxHistory, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, ttl: opts.TTL, maxHistory: opts.MaxHistory, logger: opts.Logger}, nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. a miniredis-backed
// one in tests.
func NewRedisStoreFromClient(client *redis.Client, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{TTL: DefaultTTL, MaxHistory: DefaultMaxHistory, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, ttl: opts.TTL, maxHistory: opts.MaxHistory, logger: opts.Logger}
}

func key(sessionID string) string { return redisKeyPrefix + sessionID }

// Ensure creates the session if absent. SETNX gives at-most-one creation
// under concurrent calls.
func (s *RedisStore) Ensure(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(core.NewSession(sessionID))
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, key(sessionID), payload, s.ttl).Err()
}

// Append performs the per-session read-modify-write under a keyed lock and
// refreshes the key TTL.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, core.ErrSessionNotFound) {
			return err
		}
		sess = core.NewSession(sessionID)
	}
	sess.Append(msg, s.maxHistory)

	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(sessionID), payload, s.ttl).Err()
}

// Messages returns stored history, limited to the most recent n when
// limit > 0.
func (s *RedisStore) Messages(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Recent(limit), nil
}

// Get returns the stored session.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	return s.load(ctx, sessionID)
}

// Delete removes the session key, reporting whether it existed.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Del(ctx, key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListActive scans session keys and loads their summaries. Keys expiring
// mid-scan are skipped.
func (s *RedisStore) ListActive(ctx context.Context) ([]core.SessionInfo, error) {
	var infos []core.SessionInfo
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			sess, err := s.load(ctx, strings.TrimPrefix(k, redisKeyPrefix))
			if err != nil {
				s.logger.Debug("skipping session during scan", "key", k, "error", err)
				continue
			}
			infos = append(infos, sess.Info())
		}
		cursor = next
		if cursor == 0 {
			return infos, nil
		}
	}
}

// Ping reports store reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (*core.Session, error) {
	data, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess core.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// keyedMutex hands out one mutex per session key so appends serialize per
// session instead of globally.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
