// Package memstore is a process-local SecureStore, for tests and throwaway runs.
package memstore

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

type Store struct {
	sync.RWMutex
	table map[string]string
}

var _ authgate.SecureStore = (*Store)(nil)

func Open() *Store {
	return &Store{table: make(map[string]string)}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.table[key]
	if !ok {
		return "", authgate.ErrKeyNotFound
	}
	return val, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()
	s.table[key] = value
	return nil
}

func (s *Store) Remove(_ context.Context, keys ...string) error {
	s.Lock()
	defer s.Unlock()
	for _, k := range keys {
		delete(s.table, k)
	}
	return nil
}

func (s *Store) Close() error { return nil }
