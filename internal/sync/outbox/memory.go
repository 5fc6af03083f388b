package outbox

import (
	"context"
	"sync"
)

// MemoryDocumentStore keeps documents in process memory. It backs tests
// and the CLI's --ephemeral mode.
type MemoryDocumentStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saveErr error
	loadErr error
	saves   int
}

// NewMemoryDocumentStore returns an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string][]byte)}
}

// Load implements DocumentStore.
func (m *MemoryDocumentStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}
	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

// Save implements DocumentStore.
func (m *MemoryDocumentStore) Save(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[key] = append([]byte(nil), body...)
	m.saves++
	return nil
}

// Put seeds a raw document.
func (m *MemoryDocumentStore) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), body...)
}

// Document returns the raw stored document for key.
func (m *MemoryDocumentStore) Document(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	return append([]byte(nil), doc...), ok
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *MemoryDocumentStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailLoads makes every subsequent Load return err.
func (m *MemoryDocumentStore) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// Saves returns the number of successful writes.
func (m *MemoryDocumentStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
