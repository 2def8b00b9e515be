package memstore

import (
	"context"
	"sync"
	"time"

	"ragchat/internal/domain"
)

// ConversationStore keeps every session's turns in memory. The store-wide
// lock only guards the session map; each session has its own lock and
// lease, so traffic on one session never waits on another.
type ConversationStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	maxTurns int
	now      func() time.Time
}

type session struct {
	mu    sync.Mutex
	turns []domain.Turn
	lease chan struct{}
}

type Option func(*ConversationStore)

// WithMaxStoredTurns keeps only the most recent n turns per session.
// n <= 0 keeps everything.
func WithMaxStoredTurns(n int) Option {
	return func(s *ConversationStore) { s.maxTurns = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

func NewConversationStore(opts ...Option) *ConversationStore {
	s := &ConversationStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConversationStore) session(id string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = &session{lease: make(chan struct{}, 1)}
	s.sessions[id] = sess
	return sess
}

// History returns a copy of the session's turns, oldest first.
func (s *ConversationStore) History(sessionID string) []domain.Turn {
	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]domain.Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Append records one completed exchange and returns it.
func (s *ConversationStore) Append(sessionID, question, answer string) domain.Turn {
	sess := s.session(sessionID)
	turn := domain.Turn{Question: question, Answer: answer, At: s.now()}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, turn)
	if s.maxTurns > 0 && len(sess.turns) > s.maxTurns {
		drop := len(sess.turns) - s.maxTurns
		sess.turns = append([]domain.Turn(nil), sess.turns[drop:]...)
	}
	return turn
}

// Acquire blocks until the session's lease is free or ctx is done.
// The returned release func must be called exactly once.
func (s *ConversationStore) Acquire(ctx context.Context, sessionID string) (func(), error) {
	sess := s.session(sessionID)
	select {
	case sess.lease <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-sess.lease }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sessions returns the number of known sessions.
func (s *ConversationStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
