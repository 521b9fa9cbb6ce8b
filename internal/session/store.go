// Package session keeps one upload controller per browser session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/boneguard/internal/upload"
)

// Factory builds the controller for a new session.
type Factory func() *upload.Controller

type entry struct {
	controller *upload.Controller
	lastSeen   time.Time
}

// Store maps session ids to controllers. Sessions idle for longer than the TTL
// are dropped by Sweep unless a submission is still running.
type Store struct {
	ttl     time.Duration
	factory Factory
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// New creates an empty store.
func New(ttl time.Duration, factory Factory) *Store {
	return &Store{
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the controller for id and refreshes its idle timer.
func (s *Store) Get(id string) (*upload.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.controller, true
}

// Create starts a new session.
func (s *Store) Create() (string, *upload.Controller) {
	id := uuid.NewString()
	controller := s.factory()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &entry{controller: controller, lastSeen: s.now()}
	return id, controller
}

// GetOrCreate returns the session for id, or a fresh one when id is unknown.
func (s *Store) GetOrCreate(id string) (string, *upload.Controller, bool) {
	if id != "" {
		if controller, ok := s.Get(id); ok {
			return id, controller, false
		}
	}
	newID, controller := s.Create()
	return newID, controller, true
}

// Delete forgets a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, e := range s.sessions {
		if e.lastSeen.Before(cutoff) && !e.controller.InFlight() {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 && onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
