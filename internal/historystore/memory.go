package historystore

import (
	"context"
	"sync"
)

// Memory is an in-process Store, used in tests and for local development
// without a database.
type Memory struct {
	mu       sync.Mutex
	examples map[string][]Example // keyed by functionName+"\x00"+variantName
}

// NewMemory returns an empty in-process Store.
func NewMemory() *Memory {
	return &Memory{examples: make(map[string][]Example)}
}

func (m *Memory) Insert(_ context.Context, functionName, variantName string, ex Example) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := functionName + "\x00" + variantName
	m.examples[key] = append(m.examples[key], ex)
	return nil
}

func (m *Memory) NearestNeighbors(_ context.Context, functionName, variantName string, query []float64, k int) ([]Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := functionName + "\x00" + variantName
	return topK(m.examples[key], query, k), nil
}

func (m *Memory) Close() error { return nil }
