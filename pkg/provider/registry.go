package provider

import (
	"fmt"
	"sort"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a driver factory available under the given provider id.
// Provider packages call it from init; importing a provider package is what
// enables it.
func Register(id string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("provider: Register with nil factory for " + id)
	}
	if _, dup := factories[id]; dup {
		panic("provider: Register called twice for " + id)
	}
	factories[id] = factory
}

// FactoryFor returns the registered factory for the provider id.
func FactoryFor(id string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	factory, ok := factories[id]
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider %q", id)
	}
	return factory, nil
}

// RegisteredIDs lists registered provider ids in sorted order.
func RegisteredIDs() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
