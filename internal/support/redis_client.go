package support

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisPingTimeout     = 3 * time.Second
	redisRetryDelay      = time.Second
	defaultRedisAttempts = 3
)

var (
	redisMu     sync.Mutex
	redisClient *redis.Client
)

// redisOptions reads REDIS_URL, or REDIS_ADDR with REDIS_PASSWORD and REDIS_DB
// when no URL is set.
func redisOptions() (*redis.Options, error) {
	if raw := GetEnv("REDIS_URL", ""); raw != "" {
		opt, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opt, nil
	}

	db, err := strconv.Atoi(GetEnv("REDIS_DB", "0"))
	if err != nil || db < 0 {
		return nil, errors.New("REDIS_DB must be a non-negative integer")
	}
	return &redis.Options{
		Addr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: GetEnv("REDIS_PASSWORD", ""),
		DB:       db,
	}, nil
}

// GetRedisClient returns the process-wide client, connecting on first use.
// The first connection is tried REDIS_CONNECT_ATTEMPTS times before giving up.
func GetRedisClient() (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient != nil {
		return redisClient, nil
	}

	opt, err := redisOptions()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	attempts := max(GetEnvInt("REDIS_CONNECT_ATTEMPTS", defaultRedisAttempts), 1)

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			break
		}
		if attempt >= attempts {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s after %d attempts: %w", opt.Addr, attempt, err)
		}
		log.Debug("Redis not reachable yet", "addr", opt.Addr, "attempt", attempt, "error", err)
		time.Sleep(redisRetryDelay)
	}

	redisClient = client
	return redisClient, nil
}

// SetRedisClient replaces the shared client. Tests point it at miniredis.
func SetRedisClient(client *redis.Client) {
	redisMu.Lock()
	defer redisMu.Unlock()
	redisClient = client
}

func CloseRedisClient() error {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient == nil {
		return nil
	}

	err := redisClient.Close()
	redisClient = nil
	return err
}
