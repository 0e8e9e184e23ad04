package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisad "tourbook/internal/adapters/redis"
	"tourbook/internal/domain"
)

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGetDel(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	var miss domain.Tour
	if ok, err := c.Get(ctx, "tour:t-1", &miss); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	in := domain.Tour{ID: "t-1", Title: "Volcano hike", Price: 40, HasPromotion: true, PromotionPercentage: 10}
	if err := c.Set(ctx, "tour:t-1", in, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("tourbook:tour:t-1") {
		t.Fatalf("expected prefixed key in redis, have %v", mr.Keys())
	}

	var out domain.Tour
	ok, err := c.Get(ctx, "tour:t-1", &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Title != in.Title || out.PromotionPercentage != 10 {
		t.Fatalf("roundtrip: %+v", out)
	}

	if err := c.Del(ctx, "tour:t-1"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := c.Get(ctx, "tour:t-1", &out); ok {
		t.Fatalf("expected miss after del")
	}
}

func TestCache_TTLExpires(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "tour:t-2", domain.Tour{ID: "t-2"}, 30); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(31 * time.Second)

	var out domain.Tour
	if ok, _ := c.Get(ctx, "tour:t-2", &out); ok {
		t.Fatalf("expected expiry")
	}
}

func TestCache_CorruptValueIsDropped(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	if err := mr.Set("tourbook:tour:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var out domain.Tour
	ok, err := c.Get(ctx, "tour:bad", &out)
	if ok || err == nil {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("tourbook:tour:bad") {
		t.Fatalf("corrupt value should be deleted")
	}
}
