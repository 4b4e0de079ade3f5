package downloads

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyBound is returned when a backend id is already mapped to a
// different record.
var ErrAlreadyBound = errors.New("backend id already bound")

// tombstoneCap bounds how many cancelled ids are remembered after eviction.
const tombstoneCap = 64

// Correlator maps backend-assigned ids onto Registry ids.
//
// The UI mints its own id before the backend has one, while protocol-triggered
// installs are first seen through a backend event. An unmapped backend id is
// therefore taken as the local id itself.
type Correlator struct {
	mu      sync.RWMutex
	byBack  map[string]string
	buried  map[string]struct{}
	ring    []string
	ringPos int
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		byBack: make(map[string]string),
		buried: make(map[string]struct{}),
		ring:   make([]string, 0, tombstoneCap),
	}
}

// Resolve returns the local id for backendID.
func (c *Correlator) Resolve(backendID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.byBack[backendID]; ok {
		return id
	}
	return backendID
}

// Bind maps backendID to id. Binding the same pair twice is a no-op.
func (c *Correlator) Bind(backendID, id string) error {
	if backendID == "" || id == "" {
		return fmt.Errorf("bind %q -> %q: empty id", backendID, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.byBack[backendID]; ok && cur != id {
		return fmt.Errorf("bind %q -> %q (bound to %q): %w", backendID, id, cur, ErrAlreadyBound)
	}
	c.byBack[backendID] = id
	return nil
}

// Forget drops every mapping that routes to id.
func (c *Correlator) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for back, local := range c.byBack {
		if local == id {
			delete(c.byBack, back)
		}
	}
}

// Tombstone remembers a cancelled id so late events for it are dropped
// after the record itself has been evicted. Only the most recent
// tombstoneCap ids are kept.
func (c *Correlator) Tombstone(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buried[id]; ok {
		return
	}
	if len(c.ring) < tombstoneCap {
		c.ring = append(c.ring, id)
	} else {
		delete(c.buried, c.ring[c.ringPos])
		c.ring[c.ringPos] = id
		c.ringPos = (c.ringPos + 1) % tombstoneCap
	}
	c.buried[id] = struct{}{}
}

// Buried reports whether id was cancelled recently.
func (c *Correlator) Buried(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.buried[id]
	return ok
}

// Len returns the number of live mappings.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byBack)
}
