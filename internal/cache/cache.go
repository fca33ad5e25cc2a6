// Package cache memoizes (action-id, canonical-inputs) -> outputs for the
// lifetime of the agent process.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Cache is a process-lifetime memoization table. It never evicts: the
// agent never needs eviction because job outputs are small JSON values and
// the process itself is bounded by its own run duration, so an
// eviction-aware structure would add complexity without a corresponding
// correctness or memory requirement.
type Cache struct {
	mu    sync.RWMutex
	table map[string]map[string]any
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{table: map[string]map[string]any{}}
}

// Key computes the canonical cache key for one action invocation: the
// action's git URL, its resolved version, and its inputs restricted to
// the keys the action manifest actually declares, JSON-canonicalized so
// key order never affects the digest.
func Key(gitURL, version string, declaredInputs []string, inputs map[string]any) (string, error) {
	restricted := make(map[string]any, len(declaredInputs))
	for _, k := range declaredInputs {
		if v, ok := inputs[k]; ok {
			restricted[k] = v
		}
	}
	canonical, err := canonicalJSON(restricted)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256([]byte(gitURL + "@" + version + "+" + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals m with keys sorted, so two maps that differ only
// in insertion order produce byte-identical output.
func canonicalJSON(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return "", err
		}
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered), nil
}

// Get returns a cached outputs value and whether it was present.
func (c *Cache) Get(key string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.table[key]
	return v, ok
}

// Set stores outputs under key.
func (c *Cache) Set(key string, outputs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[key] = outputs
}
