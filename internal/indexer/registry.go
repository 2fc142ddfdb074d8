package indexer

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Registry holds the managers of one process, keyed by absolute data directory.
// Servers share managers through it and the owner closes them on shutdown.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Key normalizes a data directory into a registry key.
func Key(dataDir string) (string, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return filepath.Clean(abs), nil
}

// GetOrCreate returns the manager for dataDir, calling create if there is none.
// create runs under the registry lock, so it is called at most once per key.
func (r *Registry) GetOrCreate(dataDir string, create func() (*Manager, error)) (*Manager, error) {
	key, err := Key(dataDir)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[key]; ok {
		return m, nil
	}
	m, err := create()
	if err != nil {
		return nil, err
	}
	r.managers[key] = m
	return m, nil
}

// Get returns the manager for dataDir if one is registered.
func (r *Registry) Get(dataDir string) (*Manager, bool) {
	key, err := Key(dataDir)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[key]
	return m, ok
}

// Keys lists registered data directories.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.managers))
	for k := range r.managers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes and forgets the manager for dataDir.
func (r *Registry) Close(dataDir string) error {
	key, err := Key(dataDir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	m, ok := r.managers[key]
	delete(r.managers, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Close()
}

// CloseAll closes every manager.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()
	var err error
	for _, m := range managers {
		err = multierr.Append(err, m.Close())
	}
	return err
}
