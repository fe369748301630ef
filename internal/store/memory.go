package store

import (
	"context"
	"path"
	"sort"
)

// MemoryStore is a process-local Store used in tests and single-node demos.
type MemoryStore struct {
	data map[string][]byte
	sets map[string]map[string]struct{}
	mu   chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		sets: make(map[string]map[string]struct{}),
		mu:   make(chan struct{}, 1),
	}
}

func (m *MemoryStore) lock() {
	m.mu <- struct{}{}
}

func (m *MemoryStore) unlock() {
	<-m.mu
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.lock()
	defer m.unlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	m.lock()
	defer m.unlock()

	out := make([][]byte, len(keys))
	for i, key := range keys {
		if value, exists := m.data[key]; exists {
			out[i] = append([]byte(nil), value...)
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.lock()
	defer m.unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	m.lock()
	defer m.unlock()

	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, &Error{Op: "keys", Key: pattern, Err: err}
	}

	m.lock()
	defer m.unlock()

	var keys []string
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.lock()
	defer m.unlock()

	set, exists := m.sets[key]
	if !exists {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.lock()
	defer m.unlock()

	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// Delete removes a plain key. Used by tests to simulate entries that vanish
// between listing and reading.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.lock()
	defer m.unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
