// Copyright 2025 The fawa Authors
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

package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how long a cached record is served without going
// back to the backing catalog.
const DefaultCacheTTL = time.Minute

// Cached puts an LRU of recently read records in front of another catalog.
// Records are immutable, so the only thing to keep in sync is Delete.
type Cached struct {
	next  Catalog
	cache *expirable.LRU[string, *FileRecord]

	// deletes counts finished Deletes. A Get that raced one does not fill
	// the cache.
	mu      sync.Mutex
	deletes uint64
}

// NewCached wraps next with a cache of size entries that expire after ttl.
func NewCached(next Catalog, size int, ttl time.Duration) (*Cached, error) {
	if size <= 0 {
		return nil, fmt.Errorf("create record cache: size must be positive, got %d", size)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, *FileRecord](size, nil, ttl),
	}, nil
}

func (c *Cached) Insert(ctx context.Context, rec *FileRecord) error {
	return c.next.Insert(ctx, rec)
}

func (c *Cached) Get(ctx context.Context, id string) (*FileRecord, error) {
	if rec, ok := c.cache.Get(id); ok {
		cp := *rec
		return &cp, nil
	}

	c.mu.Lock()
	seen := c.deletes
	c.mu.Unlock()

	rec, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *rec

	c.mu.Lock()
	if c.deletes == seen {
		c.cache.Add(id, &cp)
	}
	c.mu.Unlock()
	return rec, nil
}

// Delete drops the cache entry on both sides of the backing delete.
func (c *Cached) Delete(ctx context.Context, id string) error {
	c.cache.Remove(id)
	err := c.next.Delete(ctx, id)

	c.mu.Lock()
	c.deletes++
	c.cache.Remove(id)
	c.mu.Unlock()
	return err
}

func (c *Cached) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*FileRecord, error) {
	return c.next.ListCreatedBefore(ctx, cutoff, limit)
}

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.next.Close()
}
