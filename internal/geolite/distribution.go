package geolite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisFileKey   = "gatekeeper:geolite:file:" + CountryEdition
	redisChannel   = "gatekeeper:geolite:updates"
	redisOpTimeout = 30 * time.Second
)

type updatePayload struct {
	Edition   string `json:"edition"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Distributor replicates the database file through Redis so only the
// instance that wins the update job downloads from MaxMind.
type Distributor struct {
	client *redis.Client
	path   string
}

func NewDistributor(client *redis.Client, path string) *Distributor {
	return &Distributor{client: client, path: path}
}

// Publish uploads the local file and notifies the other instances.
func (d *Distributor) Publish(ctx context.Context) error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("geolite redis sync: read %s: %w", d.path, err)
	}
	if len(data) == 0 {
		return errors.New("geolite redis sync: refusing to publish an empty database")
	}

	payload, err := json.Marshal(updatePayload{
		Edition:   CountryEdition,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("geolite redis sync: serialize payload: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	_, err = d.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, redisFileKey, data, 0)
		pipe.Publish(opCtx, redisChannel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("geolite redis sync: publish: %w", err)
	}
	return nil
}

// Fetch writes the shared copy to the local path. It reports false when Redis
// holds no copy yet.
func (d *Distributor) Fetch(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := d.client.Get(opCtx, redisFileKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("geolite redis sync: fetch: %w", err)
	}
	if len(data) == 0 {
		return false, nil
	}

	if err := writeToFile(d.path, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("geolite redis sync: write %s: %w", d.path, err)
	}
	return true, nil
}

// Follow loads the shared copy once and then on every update notification,
// calling onUpdate after each successful write. It blocks until ctx is done.
func (d *Distributor) Follow(ctx context.Context, onUpdate func(path string) error) {
	apply := func(reason string) {
		updated, err := d.Fetch(ctx)
		if err != nil {
			log.Error("geolite redis sync: failed to apply update", "reason", reason, "error", err)
			return
		}
		if !updated || onUpdate == nil {
			return
		}
		if err := onUpdate(d.path); err != nil {
			log.Error("geolite redis sync: reload failed", "error", err)
			return
		}
		log.Info("geolite redis sync: applied update", "reason", reason)
	}

	pubsub := d.client.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	apply("startup")

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("geolite redis sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var payload updatePayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Error("geolite redis sync: invalid payload", "error", err)
			continue
		}
		apply("notification")
	}
}
