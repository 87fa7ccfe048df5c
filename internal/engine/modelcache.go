package engine

import (
	"context"
	"sync"
	"time"
)

// modelCache memoizes remote model-existence probes for dual-model
// integrations. Entries expire after the configured TTL so a module
// installed on the remote side is picked up without a restart.
type modelCache struct {
	remote Remote
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]modelEntry
}

type modelEntry struct {
	exists    bool
	checkedAt time.Time
}

func newModelCache(remote Remote, ttl time.Duration) *modelCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &modelCache{
		remote:  remote,
		ttl:     ttl,
		entries: make(map[string]modelEntry),
	}
}

// Exists reports whether the model is installed remotely, probing at most
// once per TTL window
func (c *modelCache) Exists(ctx context.Context, model string) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[model]
	c.mu.Unlock()

	if ok && time.Since(entry.checkedAt) < c.ttl {
		return entry.exists, nil
	}

	exists, err := c.remote.ModelExists(ctx, model)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[model] = modelEntry{exists: exists, checkedAt: time.Now()}
	c.mu.Unlock()

	return exists, nil
}

// Invalidate drops a cached probe result
func (c *modelCache) Invalidate(model string) {
	c.mu.Lock()
	delete(c.entries, model)
	c.mu.Unlock()
}
