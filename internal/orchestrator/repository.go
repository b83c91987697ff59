package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for recording playback
// sessions.
type Repository interface {
	// StartSession records a new running session. Starting an ID that already
	// exists returns ErrSessionExists.
	StartSession(s Session) error

	// RecordSegments stores the resolved segment list of a running session.
	RecordSegments(id SessionID, segments []string) error

	// RecordProgress adds delta to the session's counters.
	RecordProgress(id SessionID, delta Progress) error

	// EndSession moves a running session to a final state. Ending a session
	// that has already ended is a no-op, so the first final state wins.
	EndSession(id SessionID, state SessionState, cause error) error

	// GetSession returns a copy of the session.
	GetSession(id SessionID) (Session, bool)

	// ListSessions returns copies of all sessions, oldest first.
	ListSessions() []Session

	// ActiveSessionCount returns the number of running sessions.
	// Used for metrics.
	ActiveSessionCount() int
}

// DefaultMaxSessions bounds the session history kept by NewInMemoryRepository.
const DefaultMaxSessions = 100

var (
	// ErrSessionNotFound is returned when mutating an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session twice.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionEnded is returned when recording into a session that has
	// already reached a final state.
	ErrSessionEnded = errors.New("session has ended")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
// Once more than maxSessions are stored, the oldest ended sessions are
// dropped. Running sessions are never dropped.
type InMemoryRepository struct {
	mu          sync.RWMutex
	store       Store
	maxSessions int
}

// NewInMemoryRepository constructs a new repository with a default in-memory
// store holding at most DefaultMaxSessions sessions.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(), DefaultMaxSessions)
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given
// Store. maxSessions <= 0 keeps every session.
func NewInMemoryRepositoryWithStore(store Store, maxSessions int) *InMemoryRepository {
	return &InMemoryRepository{store: store, maxSessions: maxSessions}
}

// StartSession implements Repository.StartSession.
func (r *InMemoryRepository) StartSession(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(s.ID); exists {
		return ErrSessionExists
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	s.State = SessionRunning
	s.EndedAt = nil
	s.Segments = append([]string(nil), s.Segments...)
	r.store.SetSession(&s)
	r.pruneLocked()
	return nil
}

// RecordSegments implements Repository.RecordSegments.
func (r *InMemoryRepository) RecordSegments(id SessionID, segments []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getRunningLocked(id)
	if err != nil {
		return err
	}
	s.Segments = append([]string(nil), segments...)
	return nil
}

// RecordProgress implements Repository.RecordProgress.
func (r *InMemoryRepository) RecordProgress(id SessionID, delta Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getRunningLocked(id)
	if err != nil {
		return err
	}
	s.Progress.add(delta)
	return nil
}

// EndSession implements Repository.EndSession.
func (r *InMemoryRepository) EndSession(id SessionID, state SessionState, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.store.GetSession(id)
	if !exists {
		return ErrSessionNotFound
	}
	if s.Ended() {
		return nil
	}

	now := time.Now().UTC()
	s.State = state
	s.EndedAt = &now
	if cause != nil {
		s.Error = cause.Error()
	}
	return nil
}

// GetSession implements Repository.GetSession.
func (r *InMemoryRepository) GetSession(id SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.store.GetSession(id)
	if !exists {
		return Session{}, false
	}
	return copySession(s), true
}

// ListSessions implements Repository.ListSessions.
func (r *InMemoryRepository) ListSessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListSessionIDs()
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.GetSession(id); ok {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return olderSession(&out[i], &out[j]) })
	return out
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && !s.Ended() {
			n++
		}
	}
	return n
}

// pruneLocked drops the oldest ended sessions until the store is back
// within maxSessions. Caller must hold r.mu in write mode.
func (r *InMemoryRepository) pruneLocked() {
	if r.maxSessions <= 0 {
		return
	}
	ids := r.store.ListSessionIDs()
	excess := len(ids) - r.maxSessions
	if excess <= 0 {
		return
	}

	var ended []*Session
	for _, id := range ids {
		if s, ok := r.store.GetSession(id); ok && s.Ended() {
			ended = append(ended, s)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return olderSession(ended[i], ended[j]) })
	for i := 0; i < excess && i < len(ended); i++ {
		r.store.DeleteSession(ended[i].ID)
	}
}

// olderSession orders sessions by generation, then start time.
func olderSession(a, b *Session) bool {
	if a.Generation != b.Generation {
		return a.Generation < b.Generation
	}
	return a.StartedAt.Before(b.StartedAt)
}

// getRunningLocked returns a session that may still be mutated.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getRunningLocked(id SessionID) (*Session, error) {
	s, exists := r.store.GetSession(id)
	if !exists {
		return nil, ErrSessionNotFound
	}
	if s.Ended() {
		return nil, ErrSessionEnded
	}
	return s, nil
}

// copySession detaches a snapshot from the stored session.
func copySession(s *Session) Session {
	c := *s
	c.Segments = append([]string(nil), s.Segments...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}
