package schema

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache compiles and loads each distinct schema once. Pools are read-only,
// so a cached pool may be used by any number of concurrent conversions.
//
// Failed compilations are not cached.
type Cache struct {
	compiler Compiler
	group    singleflight.Group

	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewCache returns a cache that compiles schemas with the given compiler.
func NewCache(compiler Compiler) *Cache {
	return &Cache{
		compiler: compiler,
		pools:    map[string]*Pool{},
	}
}

// Load returns the pool for the given source and import paths, compiling it
// if it has not been compiled before. Concurrent calls for the same schema
// share a single compilation.
func (c *Cache) Load(ctx context.Context, source string, importPaths []string) (*Pool, error) {
	key := cacheKey(source, importPaths)
	c.mu.RLock()
	pool := c.pools[key]
	c.mu.RUnlock()
	if pool != nil {
		return pool, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		pool, err := CompileAndLoad(ctx, c.compiler, source, importPaths)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.pools[key] = pool
		c.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

// Len returns the number of cached pools.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}

func cacheKey(source string, importPaths []string) string {
	// NUL cannot appear in file paths
	return source + "\x00" + strings.Join(importPaths, "\x00")
}
