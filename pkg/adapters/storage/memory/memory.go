package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aescanero/cellvert/pkg/domain"
)

// InMemoryCheckpointHistory implements CheckpointHistory using an in-memory map
type InMemoryCheckpointHistory struct {
	sessions map[string][]domain.Checkpoint
	mu       sync.RWMutex
}

// NewInMemoryCheckpointHistory creates a new in-memory checkpoint history
func NewInMemoryCheckpointHistory() *InMemoryCheckpointHistory {
	return &InMemoryCheckpointHistory{
		sessions: make(map[string][]domain.Checkpoint),
	}
}

// Append records a checkpoint at the end of its session's journal
func (s *InMemoryCheckpointHistory) Append(ctx context.Context, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[cp.SessionID] = append(s.sessions[cp.SessionID], cp)
	return nil
}

// List returns a session's checkpoints in the order they were taken
func (s *InMemoryCheckpointHistory) List(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sessions[sessionID]
	out := make([]domain.Checkpoint, len(entries))
	copy(out, entries)
	return out, nil
}

// Delete removes a session's journal
func (s *InMemoryCheckpointHistory) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Sessions returns all session IDs that have recorded checkpoints
func (s *InMemoryCheckpointHistory) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}
