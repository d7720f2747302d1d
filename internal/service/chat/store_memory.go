package chat

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/securag/securag/internal/model/chat"
)

// MemoryOptions 描述进程内会话存储的上限。
type MemoryOptions struct {
	TTL         time.Duration
	MaxSessions int
	MaxTurns    int
}

// MemoryStore 基于 go-cache 的有界会话存储：空闲超时、会话数量上限（淘汰最久未访问）以及单会话记录上限。
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	opts  MemoryOptions
	now   func() time.Time
}

// NewMemoryStore 创建进程内会话存储。
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10000
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 100
	}

	cleanup := opts.TTL / 6
	if cleanup < time.Second {
		cleanup = time.Second
	}

	return &MemoryStore{
		cache: cache.New(opts.TTL, cleanup),
		opts:  opts,
		now:   time.Now,
	}
}

// History 返回会话记录副本并刷新空闲超时。
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.get(sessionID)
	if !ok {
		return []chat.Turn{}, nil
	}

	s.cache.Set(sessionID, session, cache.DefaultExpiration)
	copied := make([]chat.Turn, len(session.Turns))
	copy(copied, session.Turns)
	return copied, nil
}

// Append 追加记录，超过上限时丢弃最早的记录。
func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	session, ok := s.get(sessionID)
	if !ok {
		s.evictIfFull()
		session = &chat.Session{
			ID:        sessionID,
			Turns:     make([]chat.Turn, 0, 8),
			CreatedAt: now,
		}
	}

	session.Turns = append(session.Turns, turns...)
	if overflow := len(session.Turns) - s.opts.MaxTurns; overflow > 0 {
		session.Turns = append([]chat.Turn(nil), session.Turns[overflow:]...)
	}
	session.UpdatedAt = now

	s.cache.Set(sessionID, session, cache.DefaultExpiration)
	return nil
}

// Reset 删除会话。
func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	return nil
}

// Len 返回未过期的会话数量。
func (s *MemoryStore) Len() int {
	return len(s.cache.Items())
}

func (s *MemoryStore) get(sessionID string) (*chat.Session, bool) {
	if x, found := s.cache.Get(sessionID); found {
		return x.(*chat.Session), true
	}
	return nil, false
}

// evictIfFull 在达到会话上限时删除过期时间最早（即最久未访问）的会话。
func (s *MemoryStore) evictIfFull() {
	if s.cache.ItemCount() < s.opts.MaxSessions {
		return
	}
	s.cache.DeleteExpired()

	items := s.cache.Items()
	for len(items) >= s.opts.MaxSessions {
		var (
			oldestKey string
			oldestExp int64
		)
		for key, item := range items {
			if oldestKey == "" || item.Expiration < oldestExp {
				oldestKey = key
				oldestExp = item.Expiration
			}
		}
		s.cache.Delete(oldestKey)
		delete(items, oldestKey)
	}
}
