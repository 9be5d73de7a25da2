package handle

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// AttrKind encodes an attribute's mutability, per design note "attribute
// cache coherency": immutable attributes (rank, size, hostname-like
// values) are cached forever once read; mutable ones bypass staleness by
// expiring quickly, so a set made on another broker is picked up on the
// next get without this handle needing to be told about it explicitly.
type AttrKind uint8

const (
	AttrImmutable AttrKind = iota
	AttrMutable
)

// mutableAttrTTL bounds how long a mutable attribute may be served stale
// from cache before the next Get re-fetches it from the connector.
const mutableAttrTTL = 2 * time.Second

type attrEntry struct {
	value string
	kind  AttrKind
}

// attrCache is the per-handle attribute cache described in §4.3.
type attrCache struct {
	c *cache.Cache
}

func newAttrCache() *attrCache {
	return &attrCache{c: cache.New(cache.NoExpiration, time.Minute)}
}

func (a *attrCache) set(name, value string, kind AttrKind) {
	ttl := cache.NoExpiration
	if kind == AttrMutable {
		ttl = mutableAttrTTL
	}
	a.c.Set(name, attrEntry{value: value, kind: kind}, ttl)
}

func (a *attrCache) get(name string) (string, bool) {
	v, ok := a.c.Get(name)
	if !ok {
		return "", false
	}
	return v.(attrEntry).value, true
}

func (a *attrCache) invalidate(name string) {
	a.c.Delete(name)
}

// first/next implement the cache iteration contract (attr_cache_first/next)
// over a stable snapshot taken at First time.
type attrIterator struct {
	names []string
	pos   int
}

func (a *attrCache) first() (string, string, *attrIterator, bool) {
	items := a.c.Items()
	names := make([]string, 0, len(items))
	for k := range items {
		names = append(names, k)
	}
	it := &attrIterator{names: names}
	return it.current(a)
}

func (it *attrIterator) next(a *attrCache) (string, string, *attrIterator, bool) {
	it.pos++
	return it.current(a)
}

func (it *attrIterator) current(a *attrCache) (string, string, *attrIterator, bool) {
	if it.pos >= len(it.names) {
		return "", "", it, false
	}
	name := it.names[it.pos]
	val, ok := a.get(name)
	if !ok {
		return it.next(a)
	}
	return name, val, it, true
}
