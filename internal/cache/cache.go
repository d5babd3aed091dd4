// Package cache implements the plan cache: a bounded, TTL+stale aware,
// revision-checked map from CacheKey to a cached RoutePlan. Grounded on
// the teacher's internal/catalog package's sync.RWMutex-guarded map
// idiom, sharded here because the cache sits on the planner's hot path
// (the catalog/policy stores only contend on an infrequent admin reload).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcrouter/control-plane/pkg/models"
)

const shardCount = 32

// Key uniquely identifies a cacheable plan request, per SPEC_FULL.md §3.
type Key string

// KeyInputs bundles every dimension that participates in the cache key
// hash, per spec.md §3's CacheKey tuple.
type KeyInputs struct {
	Alias             string
	PolicyRevision    string
	CatalogRevision   string
	Api               string
	PrivacyMode       string
	OverlayIDOrFP     string
	Caps              []string
	RegionBucket      string
	PromptBucket      int
	OutputBucket      int
	TeacherBoost      bool
	CanonicalHash     string
	FreezeKey         string
	// PinnedModel is the model a presented sticky token pins this request
	// to, or "" when no sticky token was presented. It must participate
	// in the key so a pinned plan never shares a cache slot with the
	// unpinned (or differently-pinned) plan for the same request shape —
	// otherwise one caller's pin would leak into every other caller's
	// cache hit for that slot.
	PinnedModel string
}

// Derive computes a Key deterministically from KeyInputs. Two requests
// with identical KeyInputs must receive the same plan.
func Derive(in KeyInputs) Key {
	caps := append([]string(nil), in.Caps...)
	sort.Strings(caps)

	h := sha256.New()
	fmt.Fprintf(h, "alias=%s\x00rev=%s\x00crev=%s\x00api=%s\x00priv=%s\x00ovl=%s\x00caps=%v\x00region=%s\x00pb=%d\x00ob=%d\x00boost=%t\x00canon=%s\x00freeze=%s\x00pin=%s",
		in.Alias, in.PolicyRevision, in.CatalogRevision, in.Api, in.PrivacyMode, in.OverlayIDOrFP,
		caps, in.RegionBucket, in.PromptBucket, in.OutputBucket, in.TeacherBoost, in.CanonicalHash, in.FreezeKey, in.PinnedModel)
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// BucketTokens maps a raw token count onto one of 7 doubling buckets
// (0-256→0, 257-512→1, ... 4097-8192→5, ≥8193→6), so minor estimate differences don't
// fragment the cache.
func BucketTokens(n int64) int {
	bounds := []int64{256, 512, 1024, 2048, 4096, 8192}
	for i, b := range bounds {
		if n <= b {
			return i
		}
	}
	return len(bounds)
}

// Status is the cache-state tag surfaced on X-Route-Cache.
type Status = models.CacheStatus

// Entry is one cached plan plus its validity bookkeeping.
type Entry struct {
	Plan       models.RoutePlan
	InsertedAt time.Time
	TTLMs      int64
	StaleMs    int64
	ValidUntil time.Time
	FreezeKey  string
	PolicyRev  string
	CatalogRev string
	RouteReason string
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*list
}

// list is a tiny intrusive doubly linked list node used for LRU eviction
// within a shard; kept minimal since each shard's capacity is small.
type list struct {
	entry *Entry
	key   Key
	prev  *list
	next  *list
}

// Cache is a sharded, bounded, TTL+stale-aware map. The size bound is
// enforced per-shard (capacity/shardCount each) via LRU eviction,
// matching the spec's "bounded size (LRU eviction when full)".
type Cache struct {
	shards   [shardCount]*shard
	perShard int
	order    [shardCount]*lru
}

type lru struct {
	mu   sync.Mutex
	head *list
	tail *list
	n    int
}

// New builds a Cache with the given total capacity (split evenly across
// shards; a minimum of 1 per shard is enforced).
func New(capacity int) *Cache {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{perShard: perShard}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*list)}
		c.order[i] = &lru{}
	}
	return c
}

func (c *Cache) shardFor(k Key) (*shard, *lru) {
	var h uint32
	for i := 0; i < len(k) && i < 8; i++ {
		h = h*31 + uint32(k[i])
	}
	idx := h % shardCount
	return c.shards[idx], c.order[idx]
}

// Lookup returns the entry for k and whether it is currently hit, stale,
// or absent (miss). An entry is stale when its policy/catalog revision no
// longer matches the current ones, or its TTL (plus a grace window,
// ROUTER_CACHE_STALE_MS) has elapsed. A hard-expired entry (past TTL+stale)
// is evicted on this lookup and reported as miss.
func (c *Cache) Lookup(k Key, now time.Time, currentPolicyRev, currentCatalogRev string) (*Entry, Status) {
	s, ord := c.shardFor(k)

	s.mu.Lock()
	node, ok := s.entries[k]
	s.mu.Unlock()
	if !ok {
		return nil, models.CacheMiss
	}

	e := node.entry
	revMismatch := e.PolicyRev != currentPolicyRev || e.CatalogRev != currentCatalogRev
	hardExpiry := e.InsertedAt.Add(time.Duration(e.TTLMs+e.StaleMs) * time.Millisecond)
	if now.After(hardExpiry) {
		c.evict(s, ord, k, node)
		return nil, models.CacheMiss
	}

	ord.touch(node)

	if revMismatch {
		return e, models.CacheStale
	}
	if now.After(e.ValidUntil) {
		return e, models.CacheStale
	}
	return e, models.CacheHit
}

// Insert stores (or replaces) the entry for k, evicting the shard's
// least-recently-used entry first if it is already at capacity.
func (c *Cache) Insert(k Key, e *Entry) {
	s, ord := c.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[k]; ok {
		existing.entry = e
		ord.touch(existing)
		return
	}

	node := &list{entry: e, key: k}
	s.entries[k] = node
	evicted := ord.pushFront(node, c.perShard)
	if evicted != nil {
		delete(s.entries, evicted.key)
	}
}

func (c *Cache) evict(s *shard, ord *lru, k Key, node *list) {
	s.mu.Lock()
	delete(s.entries, k)
	s.mu.Unlock()
	ord.remove(node)
}

// InvalidateByFreezeKey drops every cached entry whose FreezeKey matches fk.
func (c *Cache) InvalidateByFreezeKey(fk string) {
	for i := range c.shards {
		s := c.shards[i]
		ord := c.order[i]
		s.mu.Lock()
		for k, node := range s.entries {
			if node.entry.FreezeKey == fk {
				delete(s.entries, k)
				ord.remove(node)
			}
		}
		s.mu.Unlock()
	}
}

// Clear empties the entire cache; called wholesale on any policy or
// catalog reload.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := c.shards[i]
		s.mu.Lock()
		s.entries = make(map[Key]*list)
		s.mu.Unlock()
		c.order[i] = &lru{}
	}
}

func (l *lru) touch(n *list) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlink(n)
	l.linkFront(n)
}

func (l *lru) pushFront(n *list, capacity int) *list {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linkFront(n)
	l.n++
	if l.n > capacity && l.tail != nil {
		evicted := l.tail
		l.unlink(evicted)
		l.n--
		return evicted
	}
	return nil
}

func (l *lru) remove(n *list) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.prev != nil || n.next != nil || l.head == n {
		l.unlink(n)
		l.n--
	}
}

func (l *lru) unlink(n *list) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if l.head == n {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if l.tail == n {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (l *lru) linkFront(n *list) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}
