package builder

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// guardCache is a thread-safe LRU cache of compiled expr-lang programs,
// keyed by the raw guard source text. The Builder compiles a direct edge's
// boolean guard expression (direct edges between non-switch nodes may
// carry one) once per distinct source string; a workflow graph routinely
// reuses the same guard text
// across many edges/builds, so caching the compiled *vm.Program avoids
// re-parsing it on every Build call.
type guardCache struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
	mu       sync.RWMutex
}

type guardCacheEntry struct {
	key     string
	program *vm.Program
}

// newGuardCache creates a guard cache with the given capacity (<=0 defaults
// to 100).
func newGuardCache(capacity int) *guardCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &guardCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// get retrieves a previously compiled program for source, if cached.
func (c *guardCache) get(source string) (*vm.Program, bool) {
	// A hit reorders the LRU list, so this takes the write lock.
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, found := c.cache[source]; found {
		c.lruList.MoveToFront(element)
		return element.Value.(*guardCacheEntry).program, true
	}
	return nil, false
}

// put stores a compiled program for source, evicting the least recently
// used entry if the cache is now over capacity.
func (c *guardCache) put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, found := c.cache[source]; found {
		c.lruList.MoveToFront(element)
		element.Value.(*guardCacheEntry).program = program
		return
	}

	element := c.lruList.PushFront(&guardCacheEntry{key: source, program: program})
	c.cache[source] = element

	if c.lruList.Len() > c.capacity {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.cache, oldest.Value.(*guardCacheEntry).key)
		}
	}
}

// len returns the number of cached programs.
func (c *guardCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lruList.Len()
}

// compileAndCache compiles source as a boolean expr-lang guard (evaluated
// later against {output, node}) and caches the result, returning a
// previously cached program for the same source text without recompiling.
func (c *guardCache) compileAndCache(source string, env interface{}) (*vm.Program, error) {
	if program, found := c.get(source); found {
		return program, nil
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}

	c.put(source, program)
	return program, nil
}
