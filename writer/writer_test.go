package writer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

type memStore struct {
	mu      sync.Mutex
	created []*gmaps.Place
	updated map[string]*gmaps.Place
	batches int
	fail    bool
}

func newMemStore() *memStore {
	return &memStore{updated: make(map[string]*gmaps.Place)}
}

func (s *memStore) CreatePlaces(_ context.Context, _ string, places []*gmaps.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return assert.AnError
	}

	s.created = append(s.created, places...)
	s.batches++

	return nil
}

func (s *memStore) UpdatePlaces(_ context.Context, _ string, updates map[string]*gmaps.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return assert.AnError
	}

	for k, v := range updates {
		s.updated[k] = v
	}

	return nil
}

func TestStopFlushesPartialBatch(t *testing.T) {
	store := newMemStore()
	w := New("job-1", store, DefaultBatchSize)

	w.Create(&gmaps.Place{Name: "A"})
	w.Create(&gmaps.Place{Name: "B"})
	w.Update("key-a", &gmaps.Place{Name: "A", Phone: "555"})

	accepted := w.Stop()
	assert.Equal(t, 3, accepted)

	require.Len(t, store.created, 2)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "555", store.updated["key-a"].Phone)
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	store := newMemStore()
	w := New("job-1", store, 2)

	for i := 0; i < 5; i++ {
		w.Create(&gmaps.Place{Name: "P"})
	}

	accepted := w.Stop()
	assert.Equal(t, 5, accepted)
	assert.Len(t, store.created, 5)

	// 2+2 from full batches, 1 from the final flush.
	assert.Equal(t, 3, store.batches)
}

func TestFailedFlushIsDroppedNotRetried(t *testing.T) {
	store := newMemStore()
	store.fail = true

	w := New("job-1", store, 2)
	w.Create(&gmaps.Place{Name: "A"})

	accepted := w.Stop()
	assert.Zero(t, accepted)
	assert.Empty(t, store.created)
}

func TestZeroBatchSizeUsesDefault(t *testing.T) {
	store := newMemStore()
	w := New("job-1", store, 0)

	assert.Equal(t, DefaultBatchSize, w.batchSize)
	w.Stop()
}
