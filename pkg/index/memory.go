package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tubegraph/backend/pkg/common"
)

// Memory is an in-memory similarity index: a map from node ID to
// embedding vector with linear-scan nearest-neighbor queries. It backs
// the memory store adapter and engine tests; production deployments use
// the vector support of the graph store itself.
type Memory struct {
	mu       sync.RWMutex
	distance DistanceFunc
	vectors  map[string][]float32
}

// NewMemory creates an empty in-memory index using the named metric.
func NewMemory(metric string) (*Memory, error) {
	fn, err := MetricFunc(metric)
	if err != nil {
		return nil, err
	}
	return &Memory{
		distance: fn,
		vectors:  make(map[string][]float32),
	}, nil
}

// Query returns up to k nearest entries to the given vector, ordered by
// ascending distance. Ties keep lexicographic ID order so results are
// deterministic.
func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]common.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.vectors))
	for id := range m.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{ID: id, Vector: m.vectors[id]})
	}
	return Rank(entries, vector, m.distance, k), nil
}

// Insert adds a new entry. Inserting an existing ID is an error: every
// node owns exactly one index entry.
func (m *Memory) Insert(ctx context.Context, id string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vectors[id]; ok {
		return fmt.Errorf("index entry already exists: %s", id)
	}
	m.vectors[id] = cloneVector(vector)
	return nil
}

// Update replaces the vector of an existing entry.
func (m *Memory) Update(ctx context.Context, id string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vectors[id]; !ok {
		return fmt.Errorf("index entry not found: %s", id)
	}
	m.vectors[id] = cloneVector(vector)
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Clone returns a deep copy. The memory store adapter clones the index
// at batch begin so a rolled-back batch leaves the original untouched.
func (m *Memory) Clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vectors := make(map[string][]float32, len(m.vectors))
	for id, vec := range m.vectors {
		vectors[id] = cloneVector(vec)
	}
	return &Memory{
		distance: m.distance,
		vectors:  vectors,
	}
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
