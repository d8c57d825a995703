package publisher

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to publishers. Each run builds its own.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

// NewRegistry creates a registry holding publishers.
func NewRegistry(publishers ...Publisher) (*Registry, error) {
	r := &Registry{publishers: make(map[string]Publisher)}
	for _, p := range publishers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register registers a publisher under its name.
// If a publisher with the same name is already registered, it returns an error.
func (r *Registry) Register(publisher Publisher) error {
	if publisher == nil {
		return fmt.Errorf("cannot register nil publisher")
	}

	name := publisher.Name()
	if name == "" {
		return fmt.Errorf("publisher name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.publishers[name]; exists {
		return fmt.Errorf("publisher '%s' is already registered", name)
	}

	r.publishers[name] = publisher
	return nil
}

// Get retrieves a publisher by name.
func (r *Registry) Get(name string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.publishers[name]
	if !ok {
		return nil, fmt.Errorf("unknown publisher '%s' (available: %v)", name, r.listLocked())
	}
	return p, nil
}

func (r *Registry) listLocked() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
