package telemetry

import "sync"

// Counters is a concrete, concurrency-safe Metrics implementation backed by
// a plain map. It is deliberately simple: raceline has no metrics exporter
// in scope (spec places those out of core), so the only consumer is the
// /metrics introspection endpoint, which wants a cheap point-in-time
// snapshot, not a time-series store.
type Counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

// Add increments key by delta.
func (c *Counters) Add(key string, delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] += delta
}

// Store sets key to value.
func (c *Counters) Store(key string, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
