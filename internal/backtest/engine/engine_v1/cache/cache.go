// Package cache holds per-run strategy state. A fresh cache is handed to the
// strategy at the start of every run so state can never leak between runs.
package cache

import (
	"github.com/moznion/go-optional"
)

type Cache interface {
	// Set stores a value under the key, overwriting any previous value.
	Set(key string, value any)
	// Get retrieves a raw stored value.
	Get(key string) (any, bool)
	// Reset drops everything.
	Reset()
}

type CacheV1 struct {
	data map[string]any
}

func NewCacheV1() Cache {
	return &CacheV1{data: make(map[string]any)}
}

func (c *CacheV1) Set(key string, value any) {
	c.data[key] = value
}

func (c *CacheV1) Get(key string) (any, bool) {
	value, ok := c.data[key]

	return value, ok
}

func (c *CacheV1) Reset() {
	c.data = make(map[string]any)
}

// GetAs retrieves a typed value, None when the key is missing or holds a
// different type.
func GetAs[T any](c Cache, key string) optional.Option[T] {
	raw, ok := c.Get(key)
	if !ok {
		return optional.None[T]()
	}

	typed, ok := raw.(T)
	if !ok {
		return optional.None[T]()
	}

	return optional.Some(typed)
}
