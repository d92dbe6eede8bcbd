package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
)

func newTestManager(t *testing.T, withRemote bool) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	policy := StaticPolicy{Default: time.Hour, ByType: map[string]time.Duration{}, Warmup: map[string]bool{}}
	t1 := NewMemoryCache(1000, time.Hour, policy.TTLFor)
	br, err := breaker.New("cache:t2", breaker.DefaultConfig(), nil)
	require.NoError(t, err)

	if !withRemote {
		return NewManager(t1, nil, br, policy, nil), nil
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t2, err := NewRemoteCache(mr.Addr(), "", 0, 5, time.Second, time.Second, time.Second, true, nil)
	require.NoError(t, err)

	return NewManager(t1, t2, br, policy, nil), mr
}

func TestManager_T1OnlyGetSet(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()

	m.Set(ctx, "k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("v1")})

	got, ok := m.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got.Payload)
	assert.True(t, m.T2Healthy())
}

func TestManager_FallsThroughToT2(t *testing.T) {
	m, mr := newTestManager(t, true)
	defer mr.Close()
	ctx := context.Background()

	m.Set(ctx, "k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("v1")})

	// Evict from T1 only, so the read below must fall through to T2.
	m.t1.Delete("k1")
	got, ok := m.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got.Payload)
}

func TestManager_MissReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t, false)
	_, ok := m.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestManager_InvalidateRemovesFromT1(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	m.Set(ctx, "k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("v1")})
	m.Invalidate(ctx, "k1")

	_, ok := m.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestManager_T2UnavailableDoesNotFailRead(t *testing.T) {
	m, mr := newTestManager(t, true)
	ctx := context.Background()

	m.Set(ctx, "k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("v1")})
	mr.Close() // simulate the remote tier going away after the write

	// k1 is still served from T1; a different, T1-missing key must
	// degrade to a miss rather than propagate the T2 error.
	_, ok := m.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestManager_CorruptedT2PayloadIsMissAndDeleted(t *testing.T) {
	m, mr := newTestManager(t, true)
	defer mr.Close()
	ctx := context.Background()

	// Plant garbage that is neither gzip nor JSON under a key T1 has
	// never seen.
	require.NoError(t, mr.Set("corrupt", "{not gzip, not json"))

	_, ok := m.Get(ctx, "corrupt")
	assert.False(t, ok)
	assert.False(t, mr.Exists("corrupt"))
}

func TestManager_ClearByTypeLeavesOtherTypes(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()

	m.Set(ctx, "rb", domain.CacheEntry{ContentType: "runbook", Payload: []byte("r")})
	m.Set(ctx, "proc", domain.CacheEntry{ContentType: "procedure", Payload: []byte("p")})

	removed := m.ClearByType("runbook")
	assert.Equal(t, 1, removed)

	_, ok := m.Get(ctx, "rb")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "proc")
	assert.True(t, ok)
}
