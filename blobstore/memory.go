package blobstore

import (
	"context"
	"sort"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	accounts "github.com/veridian-labs/go-accounts"
)

// Memory is an in-process StoreProvider used by tests and local
// development. Unlike the remote service it fronts for, it needs a mutex;
// the protocol code must not rely on that and doesn't.
type Memory struct {
	mu     sync.RWMutex
	stores map[string]map[string][]byte
}

var _ accounts.StoreProvider = (*Memory)(nil)

// NewMemory creates an empty provider.
func NewMemory() *Memory {
	return &Memory{stores: map[string]map[string][]byte{}}
}

// Open returns the named store, creating it lazily on first write.
func (m *Memory) Open(name string) accounts.Store {
	return &memoryStore{provider: m, name: name}
}

type memoryStore struct {
	provider *Memory
	name     string
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.provider.mu.RLock()
	defer s.provider.mu.RUnlock()

	value, ok := s.provider.stores[s.name][key]
	if !ok {
		return nil, notFound(s.name, key)
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	store, ok := s.provider.stores[s.name]
	if !ok {
		store = map[string][]byte{}
		s.provider.stores[s.name] = store
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	store[key] = stored
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	delete(s.provider.stores[s.name], key)
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]string, error) {
	s.provider.mu.RLock()
	defer s.provider.mu.RUnlock()

	keys := make([]string, 0, len(s.provider.stores[s.name]))
	for key := range s.provider.stores[s.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func notFound(store, key string) error {
	return goerrors.New("key not found: "+store+"/"+key, goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound)
}
