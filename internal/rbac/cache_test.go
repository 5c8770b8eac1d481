package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	hits, misses atomic.Int64
}

func (o *countingObserver) ObserveCacheLookup(hit bool) {
	if hit {
		o.hits.Add(1)
		return
	}
	o.misses.Add(1)
}

func TestCacheHitsAfterFirstLookup(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(WithCache(NewPermissionCache(WithObserver(obs))))
	seedEditorViewer(t, r)

	r.HasPermission(alice(), "write")
	misses := obs.misses.Load()
	r.HasPermission(alice(), "write")
	require.Equal(t, misses, obs.misses.Load())
	require.Positive(t, obs.hits.Load())
}

func TestCacheInvalidateDropsSubject(t *testing.T) {
	c := NewPermissionCache()
	var loads atomic.Int64
	load := func() set {
		loads.Add(1)
		return set{"read": {}}
	}
	c.Permissions("viewer", load)
	c.Permissions("viewer", load)
	require.EqualValues(t, 1, loads.Load())

	c.Invalidate(context.Background(), "viewer")
	c.Permissions("viewer", load)
	require.EqualValues(t, 2, loads.Load())

	c.Apply(Invalidation{All: true})
	require.Zero(t, c.Len())
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	c := NewPermissionCache()
	var loads atomic.Int64
	release := make(chan struct{})
	load := func() bool {
		loads.Add(1)
		<-release
		return true
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Decision("editor", "write", load)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.EqualValues(t, 1, loads.Load())
	require.True(t, c.Decision("editor", "write", func() bool { return false }))
}

func TestRemoteInvalidationReloadsPeer(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newPeer := func() *Registry {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRegistry(WithStore(store), WithCache(NewPermissionCache(WithRedis(client, "test.rbac"))))
	}
	a, b := newPeer(), newPeer()
	seedEditorViewer(t, a)
	require.NoError(t, b.Load(ctx))
	require.NoError(t, b.ListenForInvalidation(ctx))

	require.False(t, b.HasPermission(alice(), "delete"))
	require.NoError(t, a.AddRolePermission(ctx, "viewer", "delete"))

	require.Eventually(t, func() bool {
		return b.HasPermission(alice(), "delete")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListenWithoutRedisIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.ListenForInvalidation(context.Background()))
}
