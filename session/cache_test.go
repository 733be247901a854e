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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionWithID(id byte) *Session {
	return &Session{ID: []byte{id}, CipherSuite: "x", Protocol: "TLSv1.2", CreatedAt: time.Now()}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(10, time.Hour)

	s := sessionWithID(1)
	c.Put(s)
	require.Equal(t, 1, c.Len())
	assert.Same(t, s, c.Get([]byte{1}))
	assert.Nil(t, c.Get([]byte{2}))
}

func TestCacheEvictsLRU(t *testing.T) {
	c := NewCache(2, time.Hour)

	c.Put(sessionWithID(1))
	c.Put(sessionWithID(2))
	// touch 1 so 2 becomes least recently used
	require.NotNil(t, c.Get([]byte{1}))

	c.Put(sessionWithID(3))
	assert.Equal(t, 2, c.Len())
	assert.NotNil(t, c.Get([]byte{1}))
	assert.Nil(t, c.Get([]byte{2}))
	assert.NotNil(t, c.Get([]byte{3}))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10, 10*time.Millisecond)

	c.Put(sessionWithID(1))
	require.NotNil(t, c.Get([]byte{1}))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get([]byte{1}))
	// expired entry was lazily evicted
	assert.Equal(t, 0, c.Len())
}

func TestCacheRemove(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Put(sessionWithID(1))
	c.Remove([]byte{1})
	assert.Nil(t, c.Get([]byte{1}))
	// removing an absent id is a no-op
	c.Remove([]byte{9})
}

func TestCacheNilSafety(t *testing.T) {
	var c *Cache
	c.Put(sessionWithID(1))
	assert.Nil(t, c.Get([]byte{1}))
	c.Remove([]byte{1})
}

func TestCachePutRefreshesExisting(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Put(sessionWithID(1))

	replacement := sessionWithID(1)
	replacement.CipherSuite = "y"
	c.Put(replacement)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, "y", c.Get([]byte{1}).CipherSuite)
}
