package rate

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestLimiterResetsAfterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiterWithClock(clock)
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "k", 3, time.Minute) {
			t.Fatalf("hit %d should be allowed", i)
		}
	}
	if l.Allow(ctx, "k", 3, time.Minute) {
		t.Fatalf("fourth hit should be limited")
	}
	if !l.Allow(ctx, "other", 3, time.Minute) {
		t.Fatalf("keys must be independent")
	}
	clock.Advance(time.Minute)
	if !l.Allow(ctx, "k", 3, time.Minute) {
		t.Fatalf("new window should allow")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, zap.NewNop())
	ctx := testContext(t)

	for i := 0; i < 2; i++ {
		if !l.Allow(ctx, "login:1.2.3.4", 2, time.Minute) {
			t.Fatalf("hit %d should be allowed", i)
		}
	}
	if l.Allow(ctx, "login:1.2.3.4", 2, time.Minute) {
		t.Fatalf("third hit should be limited")
	}
	if ttl := mr.TTL("rl:login:1.2.3.4"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if !l.Allow(ctx, "login:1.2.3.4", 2, time.Minute) {
		t.Fatalf("expired window should allow")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, nil)
	mr.Close()
	if !l.Allow(testContext(t), "k", 1, time.Minute) {
		t.Fatalf("expected allow when redis is down")
	}
}
