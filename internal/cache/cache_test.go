package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/cache"
	"github.com/arcrouter/control-plane/pkg/models"
)

func TestDeriveIsDeterministicAndOrderIndependentOnCaps(t *testing.T) {
	a := cache.Derive(cache.KeyInputs{Alias: "default", Caps: []string{"tools", "json"}})
	b := cache.Derive(cache.KeyInputs{Alias: "default", Caps: []string{"json", "tools"}})
	assert.Equal(t, a, b, "cap ordering must not affect the derived key")
}

func TestDeriveDiffersOnAnyDimension(t *testing.T) {
	base := cache.KeyInputs{Alias: "default", PolicyRevision: "p1", CatalogRevision: "c1"}
	changed := base
	changed.PolicyRevision = "p2"
	assert.NotEqual(t, cache.Derive(base), cache.Derive(changed))
}

func TestDeriveDiffersOnPinnedModel(t *testing.T) {
	unpinned := cache.KeyInputs{Alias: "default", PolicyRevision: "p1", CatalogRevision: "c1"}
	pinned := unpinned
	pinned.PinnedModel = "model-b"
	assert.NotEqual(t, cache.Derive(unpinned), cache.Derive(pinned), "a sticky-pinned request must not share a cache slot with an unpinned one")

	pinnedOther := unpinned
	pinnedOther.PinnedModel = "model-c"
	assert.NotEqual(t, cache.Derive(pinned), cache.Derive(pinnedOther), "different pins must not collide")
}

func TestBucketTokensBoundaries(t *testing.T) {
	cases := []struct {
		n        int64
		expected int
	}{
		{0, 0}, {256, 0}, {257, 1}, {512, 1}, {513, 2},
		{8192, 5}, {8193, 6}, {1_000_000, 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, cache.BucketTokens(tc.n), "n=%d", tc.n)
	}
}

func TestLookupMissWhenAbsent(t *testing.T) {
	c := cache.New(64)
	_, status := c.Lookup(cache.Key("missing"), time.Now(), "p1", "c1")
	assert.Equal(t, models.CacheMiss, status)
}

func TestInsertThenLookupHit(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k := cache.Derive(cache.KeyInputs{Alias: "default"})
	c.Insert(k, &cache.Entry{
		PolicyRev:  "p1",
		CatalogRev: "c1",
		TTLMs:      60_000,
		StaleMs:    60_000,
		InsertedAt: now,
		ValidUntil: now.Add(time.Minute),
	})

	entry, status := c.Lookup(k, now, "p1", "c1")
	require.NotNil(t, entry)
	assert.Equal(t, models.CacheHit, status)
}

func TestLookupStaleOnRevisionMismatch(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k := cache.Derive(cache.KeyInputs{Alias: "default"})
	c.Insert(k, &cache.Entry{
		PolicyRev:  "p1",
		CatalogRev: "c1",
		TTLMs:      60_000,
		StaleMs:    60_000,
		InsertedAt: now,
		ValidUntil: now.Add(time.Minute),
	})

	_, status := c.Lookup(k, now, "p2", "c1")
	assert.Equal(t, models.CacheStale, status)
}

func TestLookupStaleAfterValidUntilButWithinGrace(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k := cache.Derive(cache.KeyInputs{Alias: "default"})
	c.Insert(k, &cache.Entry{
		PolicyRev:  "p1",
		CatalogRev: "c1",
		TTLMs:      1000,
		StaleMs:    60_000,
		InsertedAt: now.Add(-2 * time.Second),
		ValidUntil: now.Add(-time.Second),
	})

	_, status := c.Lookup(k, now, "p1", "c1")
	assert.Equal(t, models.CacheStale, status)
}

func TestLookupMissAfterHardExpiry(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k := cache.Derive(cache.KeyInputs{Alias: "default"})
	c.Insert(k, &cache.Entry{
		PolicyRev:  "p1",
		CatalogRev: "c1",
		TTLMs:      100,
		StaleMs:    100,
		InsertedAt: now.Add(-time.Second),
		ValidUntil: now.Add(-900 * time.Millisecond),
	})

	_, status := c.Lookup(k, now, "p1", "c1")
	assert.Equal(t, models.CacheMiss, status)

	// eviction on hard expiry means a second lookup is still a clean miss
	_, status = c.Lookup(k, now, "p1", "c1")
	assert.Equal(t, models.CacheMiss, status)
}

func TestInvalidateByFreezeKey(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k1 := cache.Derive(cache.KeyInputs{Alias: "a"})
	k2 := cache.Derive(cache.KeyInputs{Alias: "b"})
	entry := func(fk string) *cache.Entry {
		return &cache.Entry{PolicyRev: "p1", CatalogRev: "c1", TTLMs: 60_000, StaleMs: 60_000, InsertedAt: now, ValidUntil: now.Add(time.Minute), FreezeKey: fk}
	}
	c.Insert(k1, entry("tenant-a"))
	c.Insert(k2, entry("tenant-b"))

	c.InvalidateByFreezeKey("tenant-a")

	_, status := c.Lookup(k1, now, "p1", "c1")
	assert.Equal(t, models.CacheMiss, status)
	_, status = c.Lookup(k2, now, "p1", "c1")
	assert.Equal(t, models.CacheHit, status)
}

func TestClearEmptiesEverything(t *testing.T) {
	c := cache.New(64)
	now := time.Now()
	k := cache.Derive(cache.KeyInputs{Alias: "default"})
	c.Insert(k, &cache.Entry{PolicyRev: "p1", CatalogRev: "c1", TTLMs: 60_000, StaleMs: 60_000, InsertedAt: now, ValidUntil: now.Add(time.Minute)})

	c.Clear()

	_, status := c.Lookup(k, now, "p1", "c1")
	assert.Equal(t, models.CacheMiss, status)
}
