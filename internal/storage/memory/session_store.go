// Package memory provides an in-memory session store for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/fixlab/internal/clock/system"
	"github.com/JakeFAU/fixlab/internal/fixlab"
)

type overrideKey struct {
	sessionID string
	fixID     string
}

// SessionStore keeps sessions and fix-state overrides in maps.
type SessionStore struct {
	mu        sync.RWMutex
	clock     fixlab.Clock
	sessions  map[string]fixlab.Session
	overrides map[overrideKey]fixlab.FixStateOverride
	closed    bool
}

// NewSessionStore constructs a SessionStore. A nil clock uses the wall clock.
func NewSessionStore(clock fixlab.Clock) *SessionStore {
	if clock == nil {
		clock = system.New()
	}
	return &SessionStore{
		clock:     clock,
		sessions:  make(map[string]fixlab.Session),
		overrides: make(map[overrideKey]fixlab.FixStateOverride),
	}
}

var errClosed = errors.New("session store closed")

// SaveSession upserts a session by id. CreatedAt is kept from the first write.
func (s *SessionStore) SaveSession(_ context.Context, session fixlab.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &fixlab.StoreError{Op: "save session", Err: errClosed}
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	if existing, ok := s.sessions[session.ID]; ok {
		session.CreatedAt = existing.CreatedAt
	} else {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	s.sessions[session.ID] = session
	return nil
}

// GetSession fetches a session by id.
func (s *SessionStore) GetSession(_ context.Context, sessionID string) (fixlab.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fixlab.Session{}, fixlab.ErrNotFound
	}
	return session, nil
}

// ListSessions returns session headers newest first.
func (s *SessionStore) ListSessions(_ context.Context, filter fixlab.SessionFilter) ([]fixlab.SessionHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fixlab.SessionHeader, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.Store != "" && session.Store != filter.Store {
			continue
		}
		out = append(out, fixlab.SessionHeader{
			ID:        session.ID,
			Store:     session.Store,
			RootURL:   session.RootURL,
			Status:    session.Status,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListOverrides returns a session's overrides ordered by fix id.
func (s *SessionStore) ListOverrides(_ context.Context, sessionID string) ([]fixlab.FixStateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fixlab.FixStateOverride
	for key, o := range s.overrides {
		if key.sessionID == sessionID {
			out = append(out, cloneOverride(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FixID < out[j].FixID })
	return out, nil
}

// ApplyOverrides applies writes atomically under the store lock.
func (s *SessionStore) ApplyOverrides(_ context.Context, sessionID string, writes []fixlab.OverrideWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &fixlab.StoreError{Op: "apply overrides", Err: errClosed}
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return fixlab.ErrNotFound
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	for _, w := range writes {
		key := overrideKey{sessionID: sessionID, fixID: w.FixID}
		if w.Delete {
			delete(s.overrides, key)
			continue
		}
		s.overrides[key] = cloneOverride(fixlab.FixStateOverride{
			SessionID: sessionID,
			FixID:     w.FixID,
			State:     w.State,
			Note:      w.Note,
			UpdatedAt: now,
		})
	}
	session.UpdatedAt = now
	s.sessions[sessionID] = session
	return nil
}

// Ping always succeeds while the store is open.
func (s *SessionStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneOverride(o fixlab.FixStateOverride) fixlab.FixStateOverride {
	if o.Note != nil {
		note := *o.Note
		o.Note = &note
	}
	return o
}
