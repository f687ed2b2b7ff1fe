package platform

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the closed set of registered adapters, keyed by platform
// name. Lookup failures mean a channel references an unsupported platform.
type Registry struct {
	adapters map[string]Adapter
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter for platform %s already registered", name)
	}

	r.adapters[name] = adapter
	r.logger.Info("Platform adapter registered", zap.String("platform", name))
	return nil
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, fmt.Errorf("adapter for platform %s not found", name)
	}
	return adapter, nil
}

// Names returns the registered platform names, sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
