package store

import (
	"encoding/json"
	"sync"
)

// Memory is an in-memory Store for tests and callers that need the
// read/write contract without touching disk. Documents are kept as
// marshaled JSON so reads decode into fresh values, matching FileStore.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Write stores the marshaled document under path.
func (m *Memory) Write(path string, doc interface{}) bool {
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = data
	return true
}

// Read unmarshals the document stored under path into out.
func (m *Memory) Read(path string, out interface{}) bool {
	m.mu.RLock()
	data, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
