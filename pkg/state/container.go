// Package state provides the key/value container backing thread and
// session entities. The container itself carries no size-cap logic;
// callers apply serialization limits.
package state

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Container is an observable key/value store owned by a single entity.
// Iteration order over Keys is insertion order; serialization is
// deterministic regardless of insertion order.
type Container struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		values: make(map[string]any),
	}
}

// NewContainerFromJSON creates a container hydrated from a serialized
// snapshot previously produced by Serialize.
func NewContainerFromJSON(data []byte) (*Container, error) {
	values := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("decoding state snapshot: %w", err)
		}
	}

	c := &Container{
		values: values,
		order:  make([]string, 0, len(values)),
	}
	for k := range values {
		c.order = append(c.order, k)
	}
	// Hydrated order is made deterministic since the source map carries none.
	slices.Sort(c.order)
	return c, nil
}

// Get returns the value for key, or nil if absent.
func (c *Container) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Set stores a value under key.
func (c *Container) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[key]; !ok {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Has reports whether key is present.
func (c *Container) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Delete removes key if present.
func (c *Container) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
}

// Len returns the number of entries.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Keys returns the keys in insertion order.
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Snapshot returns a shallow copy of the current entries, suitable for
// serialization or logging.
func (c *Container) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}

// Serialize encodes the current entries as JSON. Map keys are emitted
// in sorted order, so equal contents always produce identical bytes.
func (c *Container) Serialize() ([]byte, error) {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}
