package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("mcp: session not found")

// Session is the server-side state bound to one session token.
type Session struct {
	ID              string         `json:"id"`
	ProtocolVersion string         `json:"protocol_version"`
	Client          Implementation `json:"client"`
	Initialized     bool           `json:"initialized"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SessionStore persists sessions. Get refreshes the session's lifetime.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	s        Session
	lastSeen time.Time
}

// MemorySessionStore keeps sessions in process. Entries idle longer than
// ttl are treated as missing and pruned lazily.
type MemorySessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]*memoryEntry
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, now: time.Now, data: make(map[string]*memoryEntry)}
}

func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[s.ID]; ok {
		return fmt.Errorf("mcp: session %s already exists", s.ID)
	}
	m.pruneLocked()
	m.data[s.ID] = &memoryEntry{s: *s, lastSeen: m.now()}
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok || m.expired(e) {
		delete(m.data, id)
		return nil, ErrSessionNotFound
	}
	e.lastSeen = m.now()
	s := e.s
	return &s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[s.ID]
	if !ok || m.expired(e) {
		return ErrSessionNotFound
	}
	e.s = *s
	e.lastSeen = m.now()
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	delete(m.data, id)
	if !ok || m.expired(e) {
		return ErrSessionNotFound
	}
	return nil
}

func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemorySessionStore) expired(e *memoryEntry) bool {
	return m.ttl > 0 && m.now().Sub(e.lastSeen) > m.ttl
}

func (m *MemorySessionStore) pruneLocked() {
	for id, e := range m.data {
		if m.expired(e) {
			delete(m.data, id)
		}
	}
}

// RedisSessionStore keeps sessions as JSON strings with a sliding TTL.
type RedisSessionStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl, prefix: "mcp:session"}
}

func (r *RedisSessionStore) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *RedisSessionStore) Create(ctx context.Context, s *Session) error {
	b, err := sonic.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, r.key(s.ID), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("mcp: session %s already exists", s.ID)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	v, err := r.rdb.GetEx(ctx, r.key(id), r.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s Session
	if err := sonic.UnmarshalString(v, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	b, err := sonic.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetXX(ctx, r.key(s.ID), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
