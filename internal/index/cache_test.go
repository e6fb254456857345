package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

type fakeL2Client struct {
	store        map[string][]models.ExternalObjectEntry
	getErr       error
	setErr       error
	deletedKeys  []string
	deletedPttns []string
}

func newFakeL2Client() *fakeL2Client {
	return &fakeL2Client{store: map[string][]models.ExternalObjectEntry{}}
}

func (f *fakeL2Client) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if f.getErr != nil {
		return false, f.getErr
	}
	v, ok := f.store[key]
	if !ok {
		return false, nil
	}
	*(target.(*[]models.ExternalObjectEntry)) = v
	return true, nil
}

func (f *fakeL2Client) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.store[key] = value.([]models.ExternalObjectEntry)
	return nil
}

func (f *fakeL2Client) Delete(ctx context.Context, key string) error {
	f.deletedKeys = append(f.deletedKeys, key)
	delete(f.store, key)
	return nil
}

func (f *fakeL2Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	f.deletedPttns = append(f.deletedPttns, pattern)
	return int64(len(f.store)), nil
}

func TestCache_GetOrLoad_MissPopulatesBothTiers(t *testing.T) {
	l2 := newFakeL2Client()
	c := NewCache(l2, CacheSettings{}, nil)
	calls := 0
	load := func() ([]models.ExternalObjectEntry, error) {
		calls++
		return []models.ExternalObjectEntry{{ExternalID: "x"}}, nil
	}

	entries, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, load)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, calls)
	assert.Len(t, l2.store, 1, "L2 is populated on a loader miss")

	entries, err = c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, load)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, calls, "second call served from L1 without re-invoking loader")
}

func TestCache_GetOrLoad_L2HitSkipsLoaderAndPopulatesL1(t *testing.T) {
	l2 := newFakeL2Client()
	c := NewCache(l2, CacheSettings{}, nil)
	key := c.cacheKey("tenant-1", "x", LookupFilter{})
	l2.store[key] = []models.ExternalObjectEntry{{ExternalID: "from-l2"}}

	called := false
	entries, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, func() ([]models.ExternalObjectEntry, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "from-l2", entries[0].ExternalID)
	assert.False(t, called, "L2 hit should not fall through to the loader")

	if v, ok := c.l1.Get(key); ok {
		assert.Len(t, v.([]models.ExternalObjectEntry), 1, "L2 hit backfills L1")
	} else {
		t.Fatal("expected L2 hit to populate L1")
	}
}

func TestCache_GetOrLoad_L2ReadErrorFallsBackToLoader(t *testing.T) {
	l2 := newFakeL2Client()
	l2.getErr = assert.AnError
	c := NewCache(l2, CacheSettings{}, nil)

	entries, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, func() ([]models.ExternalObjectEntry, error) {
		return []models.ExternalObjectEntry{{ExternalID: "loaded"}}, nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "loaded", entries[0].ExternalID)
}

func TestCache_GetOrLoad_LoaderErrorPropagates(t *testing.T) {
	c := NewCache(nil, CacheSettings{}, nil)
	_, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, func() ([]models.ExternalObjectEntry, error) {
		return nil, assert.AnError
	})
	assert.Error(t, err)
}

func TestCache_CacheKey_DistinguishesFilters(t *testing.T) {
	c := NewCache(nil, CacheSettings{}, nil)
	arnType := models.ReferenceTypeARN

	k1 := c.cacheKey("tenant-1", "x", LookupFilter{})
	k2 := c.cacheKey("tenant-1", "x", LookupFilter{ReferenceType: &arnType})
	k3 := c.cacheKey("tenant-1", "x", LookupFilter{RepositoryIDs: []string{"repo-a"}})
	k4 := c.cacheKey("tenant-2", "x", LookupFilter{})

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
	assert.Equal(t, k1, c.cacheKey("tenant-1", "x", LookupFilter{}), "same inputs hash deterministically")
}

func TestCache_CacheKey_RepositoryIDOrderDoesNotMatter(t *testing.T) {
	c := NewCache(nil, CacheSettings{}, nil)
	k1 := c.cacheKey("tenant-1", "x", LookupFilter{RepositoryIDs: []string{"repo-a", "repo-b"}})
	k2 := c.cacheKey("tenant-1", "x", LookupFilter{RepositoryIDs: []string{"repo-b", "repo-a"}})
	assert.Equal(t, k1, k2)
}

func TestCache_InvalidateKey_DropsFromBothTiersAndNotifiesSubscribers(t *testing.T) {
	l2 := newFakeL2Client()
	c := NewCache(l2, CacheSettings{}, nil)
	sub := c.Subscribe()

	_, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, func() ([]models.ExternalObjectEntry, error) {
		return []models.ExternalObjectEntry{{ExternalID: "x"}}, nil
	})
	require.NoError(t, err)
	key := c.cacheKey("tenant-1", "x", LookupFilter{})

	c.InvalidateKey(context.Background(), "tenant-1", "x", LookupFilter{})

	_, l1Hit := c.l1.Get(key)
	assert.False(t, l1Hit)
	assert.Contains(t, l2.deletedKeys, key)

	select {
	case got := <-sub:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("expected invalidation notification on subscriber channel")
	}
}

func TestCache_InvalidateTenant_FlushesL1AndDeletesL2Pattern(t *testing.T) {
	l2 := newFakeL2Client()
	c := NewCache(l2, CacheSettings{}, nil)
	_, err := c.GetOrLoad(context.Background(), "tenant-1", "x", LookupFilter{}, func() ([]models.ExternalObjectEntry, error) {
		return []models.ExternalObjectEntry{{ExternalID: "x"}}, nil
	})
	require.NoError(t, err)

	c.InvalidateTenant(context.Background(), "tenant-1")

	assert.Empty(t, c.l1.Items())
	require.Len(t, l2.deletedPttns, 1)
	assert.Contains(t, l2.deletedPttns[0], "tenant-1:*")
}

func TestCacheSettings_Defaults(t *testing.T) {
	s := CacheSettings{}.withDefaults()
	assert.Equal(t, 10_000, s.L1MaxEntries)
	assert.Equal(t, 300*time.Second, s.L1TTL)
	assert.Equal(t, time.Hour, s.L2TTL)
	assert.Equal(t, "ext-idx:", s.L2Prefix)
}
