package pipeline

import (
	"fmt"
	"sync"
)

// Store is the run-scoped channel for passing values between tasks that do
// not call each other directly. Keys are scoped by the producing task's ID.
//
// Each key is written at most once per run; the store lives and dies with
// the run that owns it.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates an empty run-scoped store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Put records value under (taskID, key). A second write to the same key is
// rejected: every key has exactly one writer per run.
func (s *Store) Put(taskID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(taskID, key)
	if _, exists := s.values[k]; exists {
		return fmt.Errorf("store: key %s already written", k)
	}
	s.values[k] = value
	return nil
}

// Get returns the value published by taskID under key, and whether it was
// found. A miss is not an error: downstream tasks are expected to handle
// absent values from branches that did not run.
func (s *Store) Get(taskID, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[storeKey(taskID, key)]
	return v, ok
}

// Len returns the number of keys written so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func storeKey(taskID, key string) string {
	return taskID + "/" + key
}
