/*
Copyright 2022-2025 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/nagare-media/vod/pkg/media"
)

type LoadFunc func(ctx context.Context, bucket, key string) (*media.Media, error)

// Cache keeps decoded side-car metadata in memory. Entries are immutable;
// concurrent misses for the same object are coalesced into a single load.
type Cache struct {
	loader LoadFunc
	group  singleflight.Group
	lru    *expirable.LRU[string, *media.Media]
}

// New creates a metadata cache holding up to maxEntries entries for at most
// ttl. maxEntries <= 0 means unlimited; ttl <= 0 disables expiration.
func New(maxEntries int, ttl time.Duration, loader LoadFunc) *Cache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Cache{
		loader: loader,
		lru:    expirable.NewLRU[string, *media.Media](maxEntries, nil, ttl),
	}
}

func (c *Cache) Get(ctx context.Context, bucket, key string) (*media.Media, error) {
	k := cacheKey(bucket, key)
	if m, ok := c.lru.Get(k); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(k, func() (any, error) {
		// another caller may have filled the entry in the meantime
		if m, ok := c.lru.Get(k); ok {
			return m, nil
		}

		m, err := c.loader(ctx, bucket, key)
		if err != nil {
			return nil, err
		}

		c.lru.Add(k, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.Media), nil
}

func (c *Cache) Invalidate(bucket, key string) {
	c.lru.Remove(cacheKey(bucket, key))
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

func cacheKey(bucket, key string) string {
	return bucket + "/" + key
}
