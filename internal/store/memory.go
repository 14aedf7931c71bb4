package store

import (
	"context"
	"sync"

	"github.com/i474232898/home-env-monitor/internal/bucket"
	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

// MemoryStore is a concurrency-safe in-memory sample store. Readings are kept
// per source in append order.
type MemoryStore struct {
	mu sync.RWMutex

	// key: source tag, value: readings in append order
	data   map[roomenv.SourceTag][]roomenv.Reading
	nextID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[roomenv.SourceTag][]roomenv.Reading),
	}
}

// Append adds a reading to the log and assigns its ID.
func (s *MemoryStore) Append(_ context.Context, r roomenv.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	s.data[r.Source] = append(s.data[r.Source], r)
	return nil
}

// QueryGroupedAverage averages the readings of source inside w per label.
func (s *MemoryStore) QueryGroupedAverage(_ context.Context, source roomenv.SourceTag, w bucket.Window, rule roomenv.GroupingRule) (map[string]roomenv.Averages, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := roomenv.NewAccumulator(rule)
	for _, r := range s.data[source] {
		if w.Contains(r.Timestamp) {
			acc.Add(r)
		}
	}
	return acc.Result(), nil
}

// Latest returns the most recently appended reading for source.
func (s *MemoryStore) Latest(_ context.Context, source roomenv.SourceTag) (roomenv.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := s.data[source]
	if len(readings) == 0 {
		return roomenv.Reading{}, roomenv.ErrNotFound
	}
	return readings[len(readings)-1], nil
}

// Len returns the number of readings held for source.
func (s *MemoryStore) Len(source roomenv.SourceTag) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[source])
}
