// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"container/list"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultCacheSize and DefaultCacheTTL are the session cache's
// default bounds: a bounded LRU keyed by session id, entries expiring
// 24h after insertion regardless of reuse.
const (
	DefaultCacheSize = 20000
	DefaultCacheTTL  = 24 * time.Hour
)

type cacheEntry struct {
	key       string
	session   *Session
	expiresAt time.Time
}

// Cache is the per-ConnectionConfig session cache, keyed by session
// ID and bounded to a maximum entry count with per-entry TTL-based
// expiry.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	ll      *list.List
	index   map[string]*list.Element
}

// NewCache returns an empty cache bounded to maxSize entries, each
// valid for ttl after insertion.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		index:   make(map[string]*list.Element),
	}
}

func keyFor(id []byte) string { return hex.EncodeToString(id) }

// Put inserts or refreshes s under its ID, evicting the
// least-recently-used entry if the cache is full.
func (c *Cache) Put(s *Session) {
	if c == nil || s == nil || len(s.ID) == 0 {
		return
	}
	key := keyFor(s.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).session = s
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(c.ttl)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, session: s, expiresAt: time.Now().Add(c.ttl)})
	c.index[key] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).key)
	}
}

// Get returns the cached session for id, or nil if absent or expired.
// An expired hit is evicted lazily on lookup.
func (c *Cache) Get(id []byte) *Session {
	if c == nil || len(id) == 0 {
		return nil
	}
	key := keyFor(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.index, key)
		return nil
	}
	c.ll.MoveToFront(el)
	return entry.session
}

// Remove evicts id unconditionally, used when a session is explicitly
// invalidated (e.g. failed resumption verification).
func (c *Cache) Remove(id []byte) {
	if c == nil || len(id) == 0 {
		return
	}
	key := keyFor(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.ll.Remove(el)
		delete(c.index, key)
	}
}

// Len reports the current number of live (not-yet-lazily-expired)
// entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
