package graphcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theuselessai/pipelit/internal/application/builder"
	"github.com/theuselessai/pipelit/pkg/models"
)

func sampleWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "wf-1",
		Nodes: []*models.Node{
			{ID: "trigger", ComponentType: models.ComponentTypeTrigger},
			{ID: "A", ComponentType: models.ComponentTypeAgent},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "trigger", To: "A", EdgeType: models.EdgeTypeDirect},
		},
	}
}

func TestKey_StableAcrossCalls(t *testing.T) {
	wf := sampleWorkflow()
	k1 := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)
	k2 := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)
	assert.Equal(t, k1, k2)
}

func TestKey_ChangesWithStructure(t *testing.T) {
	wf := sampleWorkflow()
	k1 := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)

	wf.Edges = append(wf.Edges, &models.Edge{ID: "e2", From: "A", To: "trigger"})
	k2 := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)

	assert.NotEqual(t, k1, k2)
}

func TestGetOrBuild_CachesAcrossCalls(t *testing.T) {
	wf := sampleWorkflow()
	b := builder.New(nil)
	cache := New(b, nil, Options{})

	key := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)

	plan1, err := cache.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)
	require.NotNil(t, plan1)

	plan2, err := cache.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)

	assert.Same(t, plan1, plan2) // same pointer: second call was a cache hit
	assert.Equal(t, 1, cache.Len())
}

func TestGetOrBuild_PropagatesBuildError(t *testing.T) {
	wf := sampleWorkflow()
	b := builder.New(nil)
	cache := New(b, nil, Options{})

	key := Key(wf.ID, "missing-trigger", wf.Nodes, wf.Edges)
	_, err := cache.GetOrBuild(wf.ID, key, wf, "missing-trigger")
	assert.Error(t, err)
}

func TestCache_TTLExpiry(t *testing.T) {
	wf := sampleWorkflow()
	b := builder.New(nil)
	cache := New(b, nil, Options{TTL: time.Millisecond})

	key := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)

	plan1, err := cache.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	plan2, err := cache.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)
	assert.NotSame(t, plan1, plan2) // expired: rebuilt
}

func TestCache_LRUEviction(t *testing.T) {
	b := builder.New(nil)
	cache := New(b, nil, Options{Capacity: 2})

	for i := 0; i < 3; i++ {
		wf := &models.Workflow{
			ID: "wf",
			Nodes: []*models.Node{
				{ID: "trigger", ComponentType: models.ComponentTypeTrigger},
			},
		}
		key := Key("wf", "trigger", wf.Nodes, wf.Edges)
		key = key + string(rune('a'+i)) // force distinct keys per iteration
		_, err := cache.GetOrBuild("wf", key, wf, "trigger")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.Len()) // oldest entry evicted
}

func TestCache_Invalidate_EvictsLocalEntries(t *testing.T) {
	wf := sampleWorkflow()
	b := builder.New(nil)
	cache := New(b, nil, Options{})

	key := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)
	_, err := cache.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	err = cache.Invalidate(context.Background(), wf.ID)
	require.NoError(t, err) // redis is nil: local-only invalidation, no publish error
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Invalidate_PublishesToOtherReplicas(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wf := sampleWorkflow()
	b := builder.New(nil)

	producer := New(b, client, Options{})
	consumer := New(b, client, Options{})

	key := Key(wf.ID, "trigger", wf.Nodes, wf.Edges)
	_, err := consumer.GetOrBuild(wf.ID, key, wf, "trigger")
	require.NoError(t, err)
	require.Equal(t, 1, consumer.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.Subscribe(ctx)

	require.NoError(t, producer.Invalidate(context.Background(), wf.ID))

	require.Eventually(t, func() bool {
		return consumer.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
