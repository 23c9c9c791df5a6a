// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package ignore

import (
	"time"

	"github.com/calmh/peersync/internal/timeutil"
)

// cache holds a per-path match result with a last-access timestamp, so
// that clean can evict entries that haven't been asked about in a
// while rather than letting the map grow without bound over the
// lifetime of a long-running watch. Access times come from an
// injected timeutil.Clock (spec §1(vi)'s external clock collaborator)
// rather than time.Now directly, so cacheTTL expiry can be driven
// deterministically in tests instead of requiring a real sleep.
type cache struct {
	clock    timeutil.Clock
	patterns []pattern
	entries  map[string]cacheEntry
}

type cacheEntry struct {
	value  bool
	access time.Time
}

func newCache(clock timeutil.Clock, patterns []pattern) *cache {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &cache{
		clock:    clock,
		patterns: patterns,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *cache) clean(d time.Duration) {
	now := c.clock.Now()
	for k, v := range c.entries {
		if now.Sub(v.access) > d {
			delete(c.entries, k)
		}
	}
}

func (c *cache) get(key string) (result, ok bool) {
	res, ok := c.entries[key]
	if ok {
		res.access = c.clock.Now()
		c.entries[key] = res
	}
	return res.value, ok
}

func (c *cache) set(key string, val bool) {
	c.entries[key] = cacheEntry{val, c.clock.Now()}
}

func (c *cache) len() int {
	l := len(c.entries)
	return l
}
