package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/contracts"
)

// broadcastChannel is the single pub/sub channel shared by all relay
// processes. One channel keeps redis's per-channel ordering global across
// every topic published through it.
const broadcastChannel = "relay:broadcast"

// RedisBus is the default Bus backend, a thin layer over redis pub/sub.
type RedisBus struct {
	origin string
	rdb    *redis.Client
	logger *slog.Logger

	sub  *redis.PubSub
	done chan struct{}
}

func NewRedisBus(rdb *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		origin: uuid.NewString(),
		rdb:    rdb,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Broadcast publishes the envelope. Fails fast when redis is unreachable.
func (b *RedisBus) Broadcast(ctx context.Context, topics []string, evt contracts.Event) error {
	payload, err := json.Marshal(Envelope{Origin: b.origin, Topics: topics, Event: evt})
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, broadcastChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes to the broadcast channel and pumps foreign envelopes
// into h until the context is canceled or the bus is closed.
func (b *RedisBus) Start(ctx context.Context, h Handler) error {
	b.sub = b.rdb.Subscribe(ctx, broadcastChannel)

	// force the subscription onto the wire before we report readiness
	if _, err := b.sub.Receive(ctx); err != nil {
		_ = b.sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := b.sub.Channel()
	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(ctx, []byte(msg.Payload), h)
			}
		}
	}()

	log.Info(ctx, b.logger, "bus_subscribed", "Subscribed to redis broadcast channel")
	return nil
}

func (b *RedisBus) dispatch(ctx context.Context, payload []byte, h Handler) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Error(ctx, b.logger, "bus_decode_failed", "Dropping malformed bus envelope", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	metrics.BusReceived.Inc()
	h(env.Topics, env.Event)
}

// Close tears down the subscription and waits for the pump to exit.
func (b *RedisBus) Close() error {
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	<-b.done
	return err
}
