package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/pkg/logger"
)

// redisChannel is the single pub/sub channel every controller replica
// publishes to and subscribes from; events carry their own SourceID so one
// channel is enough (no per-source Redis topics to manage).
const redisChannel = "kitt:events"

// RedisRelay bridges a process-local Bus across multiple controller
// replicas: every local Publish is mirrored to Redis, and every message
// received from Redis that did not originate locally is fanned out to this
// process's local subscribers too. Grounded on the pack's volaticloud
// internal/pubsub/redis.go (same Publish/Subscribe-with-cleanup shape,
// adapted from go-redis/v9 to the teacher's go-redis/v8).
type RedisRelay struct {
	bus    *Bus
	client *redis.Client
	log    *logger.Logger
	cancel context.CancelFunc
}

// NewRedisRelay starts mirroring bus's published events to addr and
// ingesting events published by other replicas. Call Stop to release the
// subscription.
func NewRedisRelay(bus *Bus, addr string, log *logger.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{bus: bus, client: client, log: log, cancel: cancel}
	go r.ingest(ctx)
	return r
}

// Mirror should be called after every successful local Bus.Publish to
// forward the event to other replicas. It is best-effort: a Redis outage
// degrades to single-controller behaviour rather than blocking publishers.
func (r *RedisRelay) Mirror(ctx context.Context, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, redisChannel, data).Err(); err != nil && r.log != nil {
		r.log.WithField("error", err).Warn("eventbus: redis mirror publish failed")
	}
}

func (r *RedisRelay) ingest(ctx context.Context) {
	sub := r.client.Subscribe(ctx, redisChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			r.bus.fanOutOnly(event)
		}
	}
}

// Stop unsubscribes and closes the Redis client.
func (r *RedisRelay) Stop() error {
	r.cancel()
	return r.client.Close()
}
