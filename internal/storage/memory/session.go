// Package memory provides an in-process checkout session store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/checkout"
)

var _ checkout.Store = (*SessionStore)(nil)

type entry struct {
	session  *checkout.Session
	deadline time.Time
}

// SessionStore keeps sessions in a map. Sessions untouched for longer than
// the TTL are evicted by the janitor started with StartJanitor.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewSessionStore returns an empty SessionStore. A zero ttl keeps sessions
// until they are deleted.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (s *SessionStore) Create(_ context.Context, sess *checkout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sess.ID] = &entry{session: sess.Clone(), deadline: s.deadline()}
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*checkout.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, sess *checkout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(sess.ID)
	if !ok {
		return checkout.ErrSessionNotFound
	}
	e.session = sess.Clone()
	e.deadline = s.deadline()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(id); !ok {
		return checkout.ErrSessionNotFound
	}
	delete(s.entries, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included until the
// next sweep.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor evicts expired sessions every interval until ctx is
// cancelled.
func (s *SessionStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *SessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
		}
	}
}

// live returns the entry for id unless it is missing or expired.
// Caller must hold s.mu.
func (s *SessionStore) live(id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok || s.expired(e, s.now()) {
		return nil, false
	}
	return e, true
}

func (s *SessionStore) expired(e *entry, now time.Time) bool {
	return s.ttl > 0 && now.After(e.deadline)
}

func (s *SessionStore) deadline() time.Time {
	return s.now().Add(s.ttl)
}
