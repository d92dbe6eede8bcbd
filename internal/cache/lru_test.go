package cache

import (
	"testing"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

func ttlFor(contentType string) time.Duration {
	if contentType == "runbook" {
		return 50 * time.Millisecond
	}
	return time.Hour
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(100, time.Hour, ttlFor)
	c.Set("k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("hello")})

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("Get() returned false, want true")
	}
	if string(got.Payload) != "hello" {
		t.Errorf("Get() payload = %q, want %q", got.Payload, "hello")
	}
}

func TestMemoryCache_PerContentTypeExpiry(t *testing.T) {
	c := NewMemoryCache(100, time.Hour, ttlFor)
	c.Set("k1", domain.CacheEntry{ContentType: "runbook", Payload: []byte("x")})

	if _, ok := c.Get("k1"); !ok {
		t.Fatal("expected immediate hit")
	}

	time.Sleep(75 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected expiry for runbook content type after its shorter TTL")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(100, time.Hour, ttlFor)
	c.Set("k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("x")})
	c.Delete("k1")

	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryCache_EvictsBeyondCapacity(t *testing.T) {
	c := NewMemoryCache(2, time.Hour, ttlFor)
	c.Set("k1", domain.CacheEntry{ContentType: "guide", Payload: []byte("1")})
	c.Set("k2", domain.CacheEntry{ContentType: "guide", Payload: []byte("2")})
	c.Set("k3", domain.CacheEntry{ContentType: "guide", Payload: []byte("3")})

	if c.Len() > 2 {
		t.Fatalf("Len() = %d, want <= 2", c.Len())
	}
}
