package openai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Completer is the completion surface the cache decorates. *Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	DefaultModel() string
}

// CompletionCache memoizes completions by a content hash of the request.
// Intended for deterministic prompts (temperature 0) where identical inputs
// should not be billed twice.
type CompletionCache struct {
	inner      Completer
	maxEntries int

	mu      sync.Mutex
	entries map[string]*Completion
	hits    uint64
	misses  uint64
}

func NewCompletionCache(inner Completer, maxEntries int) *CompletionCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &CompletionCache{
		inner:      inner,
		maxEntries: maxEntries,
		entries:    make(map[string]*Completion),
	}
}

func (c *CompletionCache) DefaultModel() string { return c.inner.DefaultModel() }

func (c *CompletionCache) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	key := cacheKey(req)

	c.mu.Lock()
	if cached, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		cp := *cached
		return &cp, nil
	}
	c.misses++
	c.mu.Unlock()

	result, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		// Entries are pure functions of their key, so dropping everything
		// is safe and avoids tracking recency.
		c.entries = make(map[string]*Completion)
	}
	stored := *result
	c.entries[key] = &stored
	c.mu.Unlock()

	return result, nil
}

// Invalidate drops all cached completions.
func (c *CompletionCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*Completion)
	c.mu.Unlock()
}

// Stats returns cumulative hit and miss counts.
func (c *CompletionCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cacheKey(req CompletionRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%v\x00%v\x00%d", req.Model, req.System, req.Prompt, req.Temperature, req.JSONMode, req.MaxTokens)
	return hex.EncodeToString(h.Sum(nil))
}
