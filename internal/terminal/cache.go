package terminal

import (
	"sync"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/provider"
)

// instanceCache holds the live provider for each terminal id. Processes
// that did not create a terminal rebuild its provider from the record on
// first use.
type instanceCache struct {
	mu      sync.RWMutex
	entries map[string]provider.Provider
}

func newInstanceCache() *instanceCache {
	return &instanceCache{entries: make(map[string]provider.Provider)}
}

func (c *instanceCache) Lookup(id string) (provider.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

func (c *instanceCache) Store(id string, p provider.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = p
}

// Delete removes and returns the provider for id.
func (c *instanceCache) Delete(id string) (provider.Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[id]
	delete(c.entries, id)
	return p, ok
}

func (c *instanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ProviderFor returns the provider driving t, building it on first use.
func (o *Orchestrator) ProviderFor(t model.Terminal) (provider.Provider, error) {
	if p, ok := o.instances.Lookup(t.ID); ok {
		return p, nil
	}
	p, err := o.providers.New(t.Provider, t.AgentProfile)
	if err != nil {
		return nil, err
	}
	o.instances.Store(t.ID, p)
	return p, nil
}
