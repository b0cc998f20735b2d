// Package graphcache caches compiled Plans keyed by
// (workflow_id, trigger_node_id, structural_hash) so that hot triggers skip
// the builder on every execution. It combines an
// in-process LRU+TTL with a
// Redis pub/sub channel that invalidates every replica's local cache the
// instant a workflow is edited, in every process replica.
package graphcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/theuselessai/pipelit/internal/application/builder"
	"github.com/theuselessai/pipelit/pkg/executor"
	"github.com/theuselessai/pipelit/pkg/models"
)

// InvalidationChannel is the Redis pub/sub channel every replica subscribes
// to for cross-replica cache invalidation.
const InvalidationChannel = "pipelit:graphcache:invalidate"

const defaultTTL = time.Hour

type entry struct {
	key     string
	plan    *builder.Plan
	expires time.Time
}

// Cache is a thread-safe, TTL'd, LRU-capped cache of compiled Plans, kept
// coherent across replicas via Redis pub/sub invalidation.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	items   map[string]*list.Element
	lruList *list.List

	builder *builder.Builder
	redis   *redis.Client
	group   singleflight.Group
}

// Options configures a Cache.
type Options struct {
	// Capacity caps the number of entries kept in the local LRU. Defaults to 512.
	Capacity int
	// TTL bounds how long a compiled Plan is trusted without rebuilding.
	// Defaults to one hour.
	TTL time.Duration
}

// New creates a Cache that compiles Plans via b. A non-nil redisClient is
// used by Invalidate to publish and by Subscribe to receive invalidations
// from other replicas (e.g. after a workflow edit); New itself does not
// subscribe.
func New(b *builder.Builder, redisClient *redis.Client, opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = 512
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	c := &Cache{
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		builder:  b,
		redis:    redisClient,
	}
	return c
}

// Subscribe starts listening for invalidation messages on InvalidationChannel
// until ctx is cancelled. Safe to call once per Cache; no-op if redis is nil.
func (c *Cache) Subscribe(ctx context.Context) {
	if c.redis == nil {
		return
	}
	sub := c.redis.Subscribe(ctx, InvalidationChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.evictWorkflow(msg.Payload)
			}
		}
	}()
}

// Key computes the cache key for a (workflow_id, trigger_node_id) pair over
// the workflow's current nodes and edges. Structurally identical graphs
// produce the same key, so an edit that round-trips to the same shape is
// still a cache hit (R1: "edit followed by a build-equivalent revert yields
// the prior Plan").
func Key(workflowID, triggerNodeID string, nodes []*models.Node, edges []*models.Edge) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", workflowID, triggerNodeID)
	enc := json.NewEncoder(h)
	enc.Encode(nodes)
	enc.Encode(edges)
	return workflowID + ":" + triggerNodeID + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GetOrBuild returns the cached Plan for key, building and caching it via
// the Builder if absent or expired. Concurrent callers for the same key
// (and same workflow_id prefix) are deduplicated via singleflight so a burst
// of requests for a cold trigger compiles the workflow exactly once.
func (c *Cache) GetOrBuild(workflowID, key string, workflow *models.Workflow, triggerNodeID string) (*builder.Plan, error) {
	if plan, ok := c.get(key); ok {
		return plan, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if plan, ok := c.get(key); ok {
			return plan, nil
		}
		plan, err := c.builder.Build(workflow, triggerNodeID)
		if err != nil {
			return nil, err
		}
		c.put(workflowID, key, plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*builder.Plan), nil
}

func (c *Cache) get(key string) (*builder.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expires) {
		c.lruList.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.lruList.MoveToFront(el)
	return e.plan, true
}

func (c *Cache) put(workflowID, key string, plan *builder.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.lruList.MoveToFront(el)
		el.Value.(*entry).plan = plan
		el.Value.(*entry).expires = time.Now().Add(c.ttl)
		return
	}

	el := c.lruList.PushFront(&entry{key: key, plan: plan, expires: time.Now().Add(c.ttl)})
	c.items[key] = el

	if c.lruList.Len() > c.capacity {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Invalidate evicts every cached Plan for workflowID locally and publishes
// the invalidation to every other replica subscribed on InvalidationChannel.
func (c *Cache) Invalidate(ctx context.Context, workflowID string) error {
	c.evictWorkflow(workflowID)
	if c.redis == nil {
		return nil
	}
	return c.redis.Publish(ctx, InvalidationChannel, workflowID).Err()
}

func (c *Cache) evictWorkflow(workflowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := workflowID + ":"
	for key, el := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.lruList.Remove(el)
			delete(c.items, key)
		}
	}
}

// Len returns the number of entries currently cached locally.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// NewBuilder is a convenience wrapper so callers need only import this
// package to assemble a Cache without separately importing the builder and
// executor packages.
func NewBuilder(specs *executor.SpecRegistry) *builder.Builder {
	return builder.New(specs)
}
