// Package cache keeps compiled programs keyed by the fingerprint of their
// source tree: an in-memory LRU in front of an optional SQLite database.
// Programs are stored in their CBOR wire encoding and validated on load.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/chazu/widow/compiler/hash"
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("widow.cache")

// DefaultMemoryEntries is used when Open is given a non-positive size.
const DefaultMemoryEntries = 128

// Stats counts cache traffic since Open.
type Stats struct {
	Hits     int // served from memory or disk
	DiskHits int // served from disk
	Misses   int
	Stored   int
}

// Cache maps fingerprints to compiled programs. It is safe for concurrent
// use; the programs it returns must be treated as read-only.
type Cache struct {
	mem *lru.Cache
	db  *store // nil for a memory-only cache

	mu    sync.Mutex
	stats Stats
}

// CompileFunc compiles a tree on a cache miss.
type CompileFunc func(*ast.Program) (*bytecode.Program, error)

// Open creates a cache. An empty path keeps programs in memory only.
func Open(path string, memEntries int) (*Cache, error) {
	if memEntries <= 0 {
		memEntries = DefaultMemoryEntries
	}
	mem, err := lru.New(memEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c := &Cache{mem: mem}
	if path != "" {
		if c.db, err = openStore(path); err != nil {
			return nil, fmt.Errorf("cache: %s: %w", path, err)
		}
	}
	log.Debugf("opened cache (path=%q, memory=%d)", path, memEntries)
	return c, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.close()
}

// Fingerprint returns the cache key for p.
func Fingerprint(p *ast.Program) (string, error) {
	return hash.Program(p)
}

// Get looks a program up by key.
func (c *Cache) Get(ctx context.Context, key string) (*bytecode.Program, bool, error) {
	if v, ok := c.mem.Get(key); ok {
		c.count(func(s *Stats) { s.Hits++ })
		log.Debugf("memory hit %s", key)
		return v.(*bytecode.Program), true, nil
	}
	if c.db == nil {
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false, nil
	}

	body, err := c.db.load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache: %w", err)
	}
	if body == nil {
		c.count(func(s *Stats) { s.Misses++ })
		log.Debugf("miss %s", key)
		return nil, false, nil
	}
	prog, err := bytecode.UnmarshalCBOR(body)
	if err != nil {
		// A stale or damaged entry is dropped and recompiled.
		log.Warningf("discarding unreadable entry %s: %s", key, err)
		if err := c.db.remove(ctx, key); err != nil {
			return nil, false, fmt.Errorf("cache: %w", err)
		}
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false, nil
	}
	c.mem.Add(key, prog)
	c.count(func(s *Stats) { s.Hits++; s.DiskHits++ })
	log.Debugf("disk hit %s", key)
	return prog, true, nil
}

// Put stores prog under key.
func (c *Cache) Put(ctx context.Context, key string, prog *bytecode.Program) error {
	if c.db != nil {
		body, err := bytecode.MarshalCBOR(prog)
		if err != nil {
			return fmt.Errorf("cache: encoding %s: %w", key, err)
		}
		if err := c.db.save(ctx, key, body); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	c.mem.Add(key, prog)
	c.count(func(s *Stats) { s.Stored++ })
	return nil
}

// GetOrCompile returns the cached program for p, compiling and storing it
// on a miss. It reports whether the program came from the cache. Compile
// errors are returned unchanged and nothing is stored.
func (c *Cache) GetOrCompile(ctx context.Context, p *ast.Program, compile CompileFunc) (*bytecode.Program, bool, error) {
	key, err := Fingerprint(p)
	if err != nil {
		return nil, false, fmt.Errorf("cache: %w", err)
	}
	if prog, ok, err := c.Get(ctx, key); err != nil || ok {
		return prog, ok, err
	}
	prog, err := compile(p)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, key, prog); err != nil {
		return nil, false, err
	}
	return prog, false, nil
}

// Len is the number of programs held in memory.
func (c *Cache) Len() int { return c.mem.Len() }

// Stored is the number of programs in the database.
func (c *Cache) Stored(ctx context.Context) (int, error) {
	if c.db == nil {
		return 0, nil
	}
	return c.db.count(ctx)
}

// Purge empties the memory tier.
func (c *Cache) Purge() { c.mem.Purge() }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
