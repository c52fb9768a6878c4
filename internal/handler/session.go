package handler

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/service"
)

// chatSession is the per-chat presenter state. It lives only in memory and
// expires after a period of inactivity.
type chatSession struct {
	mu sync.Mutex

	selected       string
	pendingSerial  string
	awaitingSerial bool
	pairing        bool

	speeds map[model.SpeedKind]int
}

func newChatSession() *chatSession {
	return &chatSession{
		speeds: make(map[model.SpeedKind]int),
	}
}

// adjustSpeed moves the speed preset for kind by delta, clamped to
// [0, service.MaxSpeed], and returns the new value.
func (s *chatSession) adjustSpeed(kind model.SpeedKind, delta int) int {
	v := min(max(s.speeds[kind]+delta, 0), service.MaxSpeed)
	s.speeds[kind] = v
	return v
}

type sessionStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[int64, *chatSession]
}

func newSessionStore(size int, ttl time.Duration) *sessionStore {
	return &sessionStore{
		cache: expirable.NewLRU[int64, *chatSession](size, nil, ttl),
	}
}

// get returns the session for chatID, creating it if needed. Every access
// refreshes its expiry.
func (s *sessionStore) get(chatID int64) *chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.cache.Get(chatID)
	if !ok {
		sess = newChatSession()
	}
	s.cache.Add(chatID, sess)
	return sess
}
