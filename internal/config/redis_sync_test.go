package config

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func resetRedisSync(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		globalRedisSync.mu.Lock()
		globalRedisSync.client = nil
		globalRedisSync.ctx = nil
		globalRedisSync.origin = ""
		globalRedisSync.mu.Unlock()
	})
}

func envelope(t *testing.T, origin string, cfg Config) string {
	t.Helper()
	payload, err := json.Marshal(syncEnvelope{Origin: origin, Config: cfg})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(payload)
}

func TestRedisSync_AdoptsSharedConfigAndFollowsUpdates(t *testing.T) {
	useSettingsFile(t)
	resetRedisSync(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	shared, _ := DefaultConfig()
	shared.RateLimit.MaxRequests = 9
	if err := mr.Set(redisConfigKey, envelope(t, "other-instance", shared)); err != nil {
		t.Fatalf("seed redis: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	EnableRedisSynchronization(ctx, client)
	if got := GetConfig().RateLimit.MaxRequests; got != 9 {
		t.Fatalf("max_requests = %d, want the shared value 9", got)
	}

	remote := shared
	remote.RateLimit.MaxRequests = 7
	payload := envelope(t, "other-instance", remote)

	deadline := time.Now().Add(5 * time.Second)
	for GetConfig().RateLimit.MaxRequests != 7 {
		if time.Now().After(deadline) {
			t.Fatal("remote update was never applied")
		}
		mr.Publish(redisConfigChannel, payload)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRedisSync_SeedsEmptyRedisAndIgnoresOwnBroadcasts(t *testing.T) {
	useSettingsFile(t)
	resetRedisSync(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	EnableRedisSynchronization(ctx, client)

	raw, err := mr.Get(redisConfigKey)
	if err != nil {
		t.Fatalf("local configuration was not published: %v", err)
	}
	var env syncEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode published envelope: %v", err)
	}
	if env.Origin != syncOrigin() {
		t.Fatalf("published origin = %q, want %q", env.Origin, syncOrigin())
	}

	own := GetConfig()
	own.RateLimit.MaxRequests = 3
	mr.Publish(redisConfigChannel, envelope(t, syncOrigin(), own))
	time.Sleep(100 * time.Millisecond)

	if got := GetConfig().RateLimit.MaxRequests; got == 3 {
		t.Fatal("instance applied its own broadcast")
	}
}
