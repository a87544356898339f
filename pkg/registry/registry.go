// Package registry maps sink and driver ids to their constructors.
package registry

import (
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/driver"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/sink"
)

// Registry is built once at startup and passed to whoever needs it. The
// last registration for an id wins.
type Registry struct {
	mu      sync.RWMutex
	sinks   map[string]sink.Factory
	drivers map[string]driver.Factory
}

func New() *Registry {
	return &Registry{
		sinks:   make(map[string]sink.Factory),
		drivers: make(map[string]driver.Factory),
	}
}

func (r *Registry) RegisterSink(id string, factory sink.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = factory
}

func (r *Registry) RegisterDriver(id string, factory driver.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[id] = factory
}

// HasSink and HasDriver let callers validate ids before doing any I/O.
func (r *Registry) HasSink(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sinks[id]
	return ok
}

func (r *Registry) HasDriver(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drivers[id]
	return ok
}

// NewSink returns a fresh sink instance for id.
func (r *Registry) NewSink(id string) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fernerrors.NewConfigurationError("registry", "no sink registered for id %q", id)
	}
	return factory(), nil
}

// NewDriver returns a driver instance for id.
func (r *Registry) NewDriver(id string) (driver.Driver, error) {
	r.mu.RLock()
	factory, ok := r.drivers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fernerrors.NewConfigurationError("registry", "no driver registered for id %q", id)
	}
	return factory(), nil
}

func (r *Registry) SinkIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sinks)
}

func (r *Registry) DriverIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.drivers)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
