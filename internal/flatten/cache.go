package flatten

import (
	"contentsql/internal/schema"
)

// Key identifies a cached resolution: the rule origin and the class the
// rules were resolved for.
type Key struct {
	Origin string
	Class  schema.ClassID
}

// Cache holds resolved paths for one build session. It is not safe for
// concurrent use.
type Cache[V any] struct {
	entries map[Key]V
	hits    int
	misses  int
}

// NewCache returns an empty cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: map[Key]V{}}
}

// Get looks a key up and counts the hit or miss.
func (c *Cache[V]) Get(key Key) (V, bool) {
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores a value.
func (c *Cache[V]) Put(key Key, v V) {
	c.entries[key] = v
}

// Find returns the first entry of origin whose class satisfies match,
// without touching the counters. Iteration order follows classes.
func (c *Cache[V]) Find(origin string, classes []*schema.Class) (V, *schema.Class, bool) {
	for _, cls := range classes {
		if v, ok := c.entries[Key{Origin: origin, Class: cls.ID}]; ok {
			return v, cls, true
		}
	}
	var zero V
	return zero, nil, false
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	return len(c.entries)
}

// Hits returns the number of lookups answered from the cache.
func (c *Cache[V]) Hits() int {
	return c.hits
}

// Misses returns the number of lookups that were not.
func (c *Cache[V]) Misses() int {
	return c.misses
}
