package memory

import (
	"context"
	"sync"

	id "herdbook/pkg/domain"
	audit "herdbook/pkg/platform/audit"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	all      []audit.Event
	byRecord map[id.RecordID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byRecord: make(map[id.RecordID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = nil
	s.byRecord = make(map[id.RecordID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, event)
	if !event.RecordID.IsNil() {
		s.byRecord[event.RecordID] = append(s.byRecord[event.RecordID], event)
	}
	return nil
}

func (s *InMemoryStore) ListByRecord(_ context.Context, recordID id.RecordID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.byRecord[recordID]...), nil
}

// ListRecent returns up to limit of the most recently appended events, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := max(len(s.all)-limit, 0)
	return append([]audit.Event{}, s.all[start:]...), nil
}
