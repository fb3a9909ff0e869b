/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package membership

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/VictoriaMetrics/fastcache"
)

// Cached memoizes a Directory. Entries carry their expiry in the first
// eight bytes of the cached value.
type Cached struct {
	Directory Directory
	TTL       time.Duration
	Clock     clock.Clock

	cache *fastcache.Cache
}

// NewCached wraps d with a cache of at most maxBytes.
func NewCached(d Directory, ttl time.Duration, maxBytes int, clk clock.Clock) *Cached {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Cached{
		Directory: d,
		TTL:       ttl,
		Clock:     clk,
		cache:     fastcache.New(maxBytes),
	}
}

func (c *Cached) Resolve(ctx context.Context, mspID string) (Member, error) {
	key := []byte(mspID)
	if v, ok := c.cache.HasGet(nil, key); ok && len(v) > 8 {
		expiry := int64(binary.BigEndian.Uint64(v[:8]))
		if c.Clock.Now().UnixNano() < expiry {
			var m Member
			if err := json.Unmarshal(v[8:], &m); err == nil {
				return m, nil
			}
		}
		c.cache.Del(key)
	}

	m, err := c.Directory.Resolve(ctx, mspID)
	if err != nil {
		return Member{}, err
	}

	body, err := json.Marshal(m)
	if err != nil {
		return m, nil
	}
	v := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint64(v, uint64(c.Clock.Now().Add(c.TTL).UnixNano()))
	c.cache.Set(key, append(v, body...))
	return m, nil
}

// Invalidate drops the cached record for mspID.
func (c *Cached) Invalidate(mspID string) {
	c.cache.Del([]byte(mspID))
}

// Reset drops every cached record.
func (c *Cached) Reset() {
	c.cache.Reset()
}
