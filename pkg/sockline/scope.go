package sockline

import (
	"context"
	"sync"
)

// Scope groups subscriptions owned by one consumer so that they can be
// released together when the consumer goes away.
//
//	scope := manager.NewScope().BindContext(ctx)
//	scope.On("notification", handler)
//	// all subscriptions are removed when ctx is done, or on scope.Close()
type Scope struct {
	manager *Manager

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
	stop   func() bool
}

// NewScope creates an empty scope bound to the manager.
func (m *Manager) NewScope() *Scope {
	return &Scope{manager: m}
}

// On subscribes handler to eventType and records the subscription in the
// scope. It returns nil if the scope is already closed.
func (s *Scope) On(eventType string, handler Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	sub := s.manager.Subscribe(eventType, handler)
	if sub != nil {
		s.subs = append(s.subs, sub)
	}
	return sub
}

// Off removes one subscription made through this scope.
func (s *Scope) Off(sub *Subscription) {
	if sub == nil {
		return
	}

	s.mu.Lock()
	for i, candidate := range s.subs {
		if candidate == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.manager.Unsubscribe(sub)
}

// BindContext closes the scope once ctx is done.
func (s *Scope) BindContext(ctx context.Context) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stop != nil {
		return s
	}
	s.stop = context.AfterFunc(ctx, s.Close)
	return s
}

// Len returns the number of subscriptions held by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close removes every subscription made through the scope. It is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, sub := range subs {
		s.manager.Unsubscribe(sub)
	}
}
