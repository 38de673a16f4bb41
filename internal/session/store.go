// Package session keeps the latest identity session for the views.
package session

import (
	"context"
	"sync"

	"github.com/pders01/stashsave/internal/auth"
	"github.com/pders01/stashsave/internal/debuglog"
)

// Store holds the current session. It is written only by the provider's
// subscription callback and by the initial one-shot query in Start.
type Store struct {
	provider auth.Provider
	log      *debuglog.FieldLogger

	mu      sync.RWMutex
	current *auth.Session
	events  uint64
	started bool
	closed  bool
	sub     auth.Subscription
	changes chan struct{}
}

// NewStore accepts a nil provider, meaning the identity service is not
// configured.
func NewStore(provider auth.Provider) *Store {
	return &Store{
		provider: provider,
		log:      debuglog.WithFields(map[string]interface{}{"component": "session"}),
		changes:  make(chan struct{}, 1),
	}
}

// Start subscribes to the provider, then loads the current session. A
// notification that lands in between is newer than the query result and
// wins.
func (s *Store) Start(ctx context.Context) {
	if s.provider == nil {
		return
	}

	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	// Providers may deliver synchronously, so subscribe without holding mu
	sub := s.provider.Subscribe(s.onChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	initial, err := s.provider.CurrentSession(ctx)
	if err != nil {
		s.log.Warnf("initial session query: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events > 0 || s.closed {
		return
	}
	s.current = initial.Clone()
	s.notifyLocked()
}

func (s *Store) onChange(next *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events++
	s.current = next.Clone()
	s.notifyLocked()
	s.log.Debugf("session changed, user=%q", next.UserID())
}

func (s *Store) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Current returns a copy of the session, nil when signed out.
func (s *Store) Current() *auth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Configured reports whether an identity provider is available.
func (s *Store) Configured() bool {
	return s.provider != nil
}

// Changes signals after every update. Signals coalesce; read Current after
// receiving one. The channel is closed by Close.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Close releases the provider subscription. It is safe to call more than
// once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	close(s.changes)
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
