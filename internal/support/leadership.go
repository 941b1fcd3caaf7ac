package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leaderKeyPrefix      = "gatekeeper:leader:"
	leadershipRetryDelay = time.Second
	renewalTimeout       = 5 * time.Second
	minRenewalInterval   = time.Second
)

var (
	leaderCounter atomic.Uint64

	errLockLost = errors.New("leader lock lost")

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaderKey namespaces a job name for the leader lock.
func LeaderKey(job string) string {
	return leaderKeyPrefix + job
}

// RunWithLeader runs fn only on the instance holding the Redis lock for key.
// fn receives a context cancelled when the lock is lost or ctx ends. After fn
// returns the lock is released and acquisition starts over, so fn is expected
// to loop until its context is done.
func RunWithLeader(ctx context.Context, key string, ttl time.Duration, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("support: leader run function cannot be nil")
	}

	client, err := GetRedisClient()
	if err != nil {
		return fmt.Errorf("support: leader lock redis client: %w", err)
	}

	return runWithLeader(ctx, client, key, ttl, fn)
}

func runWithLeader(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration, fn func(context.Context)) error {
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	owner := leaderID()

	for {
		acquired, err := client.SetNX(ctx, key, owner, ttl).Result()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		case acquired:
			log.Debug("leader lock: acquired", "key", key)
			hold(ctx, client, key, owner, ttl, fn)
			log.Debug("leader lock: released", "key", key)
		}

		if !sleepCtx(ctx, leadershipRetryDelay) {
			return ctx.Err()
		}
	}
}

// hold runs fn while renewing the lock in the background.
func hold(parent context.Context, client redis.Cmdable, key, owner string, ttl time.Duration, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	renewDone := make(chan struct{})

	go func() {
		defer close(renewDone)

		interval := max(ttl/3, minRenewalInterval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := renew(client, key, owner, ttl); err != nil {
					log.Warn("leader lock: renewal failed", "key", key, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	fn(ctx)
	cancel()
	<-renewDone

	if err := release(client, key, owner); err != nil {
		log.Warn("leader lock: release failed", "key", key, "error", err)
	}
}

func renew(client redis.Cmdable, key, owner string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	updated, err := renewScript.Run(ctx, client, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if updated == 0 {
		return errLockLost
	}
	return nil
}

func release(client redis.Cmdable, key, owner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	err := releaseScript.Run(ctx, client, []string{key}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func leaderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderCounter.Add(1))
}
