// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"math/rand"
	"strings"
	"sync"
)

// headerNameCacheLimit bounds the process-wide header-name cache. Correctness
// never depends on a hit, so a cheap random eviction past the cap is enough
// (spec §9): in practice the set of distinct incoming header names is small
// and stable per deployment.
const headerNameCacheLimit = 4096

// headerNameCache maps a cased incoming header name to its interned,
// lower-cased form, avoiding a strings.ToLower allocation on every header
// line of every request. It is process-wide and safe for concurrent
// insert-if-absent access from many connections' event loops at once.
type headerNameCache struct {
	mu sync.RWMutex
	m  map[string]string
}

var globalHeaderNameCache = &headerNameCache{m: make(map[string]string, 64)}

// lower returns the interned lower-cased form of name, inserting it on first
// sight.
func (c *headerNameCache) lower(name string) string {
	c.mu.RLock()
	if v, ok := c.m[name]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	lowered := strings.ToLower(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.m[name]; ok { // lost the race, another goroutine already inserted
		return v
	}
	if len(c.m) >= headerNameCacheLimit {
		c.evictOneLocked()
	}
	c.m[name] = lowered
	return lowered
}

// evictOneLocked drops one random entry. Called with mu held for writing.
func (c *headerNameCache) evictOneLocked() {
	n := rand.Intn(len(c.m))
	i := 0
	for k := range c.m {
		if i == n {
			delete(c.m, k)
			return
		}
		i++
	}
}
