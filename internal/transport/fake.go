package transport

import (
	"context"
	"sync"
)

// FakeTransport records bootstraps and lets tests drive connection
// lifecycle by hand.
type FakeTransport struct {
	mu       sync.Mutex
	sessions []*FakeSession
	FailErr  error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (t *FakeTransport) Bootstrap(ctx context.Context, sessionKey string, role Role) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailErr != nil {
		return nil, t.FailErr
	}
	sess := &FakeSession{key: sessionKey, Role: role}
	t.sessions = append(t.sessions, sess)
	return sess, nil
}

func (t *FakeTransport) Sessions() []*FakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FakeSession, len(t.sessions))
	copy(out, t.sessions)
	return out
}

// OpenSessionCount reports sessions bootstrapped and not yet closed.
func (t *FakeTransport) OpenSessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	open := 0
	for _, s := range t.sessions {
		if !s.Closed() {
			open++
		}
	}
	return open
}

type FakeSession struct {
	key  string
	Role Role

	mu             sync.Mutex
	onConnected    func()
	onDisconnected func()
	closed         bool
}

func (s *FakeSession) Key() string { return s.key }

func (s *FakeSession) OnConnected(fn func()) {
	s.mu.Lock()
	s.onConnected = fn
	s.mu.Unlock()
}

func (s *FakeSession) OnDisconnected(fn func()) {
	s.mu.Lock()
	s.onDisconnected = fn
	s.mu.Unlock()
}

// FireConnected simulates the peer path coming up.
func (s *FakeSession) FireConnected() {
	s.mu.Lock()
	fn := s.onConnected
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireDisconnected simulates the peer path dropping.
func (s *FakeSession) FireDisconnected() {
	s.mu.Lock()
	fn := s.onDisconnected
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
