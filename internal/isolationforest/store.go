package isolationforest

import (
	"context"
	"sync"
)

// ModelLoader resolves serialized forest blobs by client, e.g. a Postgres/object
// storage adapter where IF models are uploaded after offline training
// (spec.md §9 IF model lifecycle). Out of scope in detail per spec.md §1.
type ModelLoader interface {
	LoadModel(ctx context.Context, clientID string) ([]byte, bool, error)
}

// Store is the read-only-after-load model store contract: load(clientId) ->
// Forest | absent. Absence is not an error — the ISOLATION_FOREST rule simply
// does not trigger for that client (spec.md §4.5, §9).
type Store struct {
	mu     sync.RWMutex
	cached map[string]*Forest
	loader ModelLoader
}

// NewStore creates a model store backed by loader. A nil loader yields a store
// that only ever serves models explicitly placed with Put (useful for tests and
// for environments with no trained models yet).
func NewStore(loader ModelLoader) *Store {
	return &Store{cached: make(map[string]*Forest), loader: loader}
}

// Put installs a forest directly, bypassing the loader — used by offline
// training tooling and tests.
func (s *Store) Put(clientID string, f *Forest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[clientID] = f
}

// Load returns the client's forest, lazily fetching and caching it via the
// configured loader. The second return value is false when no model exists for
// this client — callers must treat that as "rule not applicable", never an error.
func (s *Store) Load(ctx context.Context, clientID string) (*Forest, bool, error) {
	s.mu.RLock()
	f, ok := s.cached[clientID]
	s.mu.RUnlock()
	if ok {
		return f, true, nil
	}

	if s.loader == nil {
		return nil, false, nil
	}

	data, found, err := s.loader.LoadModel(ctx, clientID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	forest, err := Deserialize(data)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.cached[clientID] = forest
	s.mu.Unlock()

	return forest, true, nil
}

// Invalidate drops a client's cached model, forcing the next Load to refetch —
// used when a new model is uploaded for that client.
func (s *Store) Invalidate(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cached, clientID)
}
