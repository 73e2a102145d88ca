package store

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"herdbook/internal/identity/models"
	id "herdbook/pkg/domain"
	"herdbook/pkg/platform/sentinel"
)

// InMemory is an append-only record store. Records are kept in insertion order
// and never mutated, so a scan can iterate a snapshot of the slice without
// holding the lock.
type InMemory struct {
	mu       sync.RWMutex
	records  []models.Record
	byID     map[id.RecordID]int
	nextID   id.RecordID
	capacity int
	clock    func() time.Time
}

// InMemoryOption configures an InMemory store.
type InMemoryOption func(*InMemory)

// WithCapacity bounds the number of records; inserts beyond it fail with
// sentinel.ErrUnavailable. Zero means unbounded.
func WithCapacity(n int) InMemoryOption {
	return func(s *InMemory) {
		s.capacity = n
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(clock func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		byID:   make(map[id.RecordID]int),
		nextID: 1,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert appends record and returns it with its assigned ID and creation time.
func (s *InMemory) Insert(_ context.Context, record models.Record) (models.Record, error) {
	stored := record.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.records) >= s.capacity {
		return models.Record{}, fmt.Errorf("insert record: capacity %d exhausted: %w", s.capacity, sentinel.ErrUnavailable)
	}
	stored.ID = s.nextID
	stored.CreatedAt = s.clock()
	s.nextID++
	s.byID[stored.ID] = len(s.records)
	s.records = append(s.records, stored)
	return stored.Clone(), nil
}

// Scan yields every record committed before the call, oldest first. Records
// inserted while the scan runs are not observed.
func (s *InMemory) Scan(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		s.mu.RLock()
		snapshot := s.records[:len(s.records):len(s.records)]
		s.mu.RUnlock()

		for _, rec := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(models.Record{}, err)
				return
			}
			if !yield(rec.Clone(), nil) {
				return
			}
		}
	}
}

func (s *InMemory) FindByID(_ context.Context, recordID id.RecordID) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[recordID]
	if !ok {
		return models.Record{}, sentinel.ErrNotFound
	}
	return s.records[idx].Clone(), nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
