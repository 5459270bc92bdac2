package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/contracts"
)

// broadcastExchange is a fanout exchange; every relay process binds its own
// exclusive queue to it, which gives the same semantics as the redis
// channel: every envelope reaches every process, in publish order.
const broadcastExchange = "relay.broadcast"

// RabbitBus is the alternative Bus backend, with auto-reconnect in the
// background. Broadcast itself never retries: while the connection is down
// it fails fast.
type RabbitBus struct {
	origin string
	url    string
	logger *slog.Logger
	logCtx context.Context

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	handler Handler

	closed    chan struct{}
	reconnect chan struct{}
}

func NewRabbitBus(url string, logger *slog.Logger) *RabbitBus {
	return &RabbitBus{
		origin:    uuid.NewString(),
		url:       url,
		logger:    logger,
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
}

// Start connects, declares topology and begins consuming. A background
// watcher re-establishes the connection and the consumer after failures.
func (b *RabbitBus) Start(ctx context.Context, h Handler) error {
	b.handler = h
	b.logCtx = context.WithoutCancel(ctx)

	if err := b.connectOnce(); err != nil {
		return err
	}

	go b.watch()
	return nil
}

// Broadcast publishes the envelope to the fanout exchange. Transient
// delivery: a relay event has no value once its moment has passed.
func (b *RabbitBus) Broadcast(ctx context.Context, topics []string, evt contracts.Event) error {
	b.mu.RLock()
	conn := b.conn
	ch := b.pubChan
	b.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	payload, err := json.Marshal(Envelope{Origin: b.origin, Topics: topics, Event: evt})
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(pubCtx, broadcastExchange, "", false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			ContentType:  "application/json",
			Body:         payload,
		},
	)
}

// Close stops the watcher and closes AMQP resources.
func (b *RabbitBus) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubChan != nil {
		_ = b.pubChan.Close()
		b.pubChan = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	return nil
}

// --- internals ---

func (b *RabbitBus) connectOnce() error {
	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: failed to open channel: %w", err)
	}

	if err = ch.ExchangeDeclare(broadcastExchange, "fanout", false, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", broadcastExchange, err)
	}

	// per-process exclusive queue; the server names it and deletes it with
	// the connection
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare bus queue: %w", err)
	}
	if err = ch.QueueBind(q.Name, "", broadcastExchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind bus queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true /* autoAck */, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("consume bus queue: %w", err)
	}

	go func() {
		for d := range deliveries {
			b.dispatch(d.Body)
		}
	}()

	// install the new connection and trigger reconnects on closure
	b.mu.Lock()
	if b.pubChan != nil && !b.pubChan.IsClosed() {
		_ = b.pubChan.Close()
	}
	b.conn = conn
	b.pubChan = ch
	b.mu.Unlock()

	go func(conn *amqp.Connection, ch *amqp.Channel) {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-b.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}

		select {
		case b.reconnect <- struct{}{}:
		default:
		}
	}(conn, ch)

	log.Info(b.logCtx, b.logger, "rabbitmq_connected", "RabbitMQ bus connection established")
	return nil
}

func (b *RabbitBus) dispatch(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Error(b.logCtx, b.logger, "bus_decode_failed", "Dropping malformed bus envelope", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	metrics.BusReceived.Inc()
	b.handler(env.Topics, env.Event)
}

// watch reconnects with exponential backoff until Close.
func (b *RabbitBus) watch() {
	backoff := time.Second
	for {
		select {
		case <-b.closed:
			return
		case <-b.reconnect:
			for {
				select {
				case <-b.closed:
					return
				default:
				}

				if err := b.connectOnce(); err == nil {
					backoff = time.Second
					log.Info(b.logCtx, b.logger, "rabbitmq_reconnected", "Reconnected to RabbitMQ bus")
					break
				} else {
					log.Error(b.logCtx, b.logger, "rabbitmq_reconnect_failed", "Failed to reconnect to RabbitMQ", err)
				}

				time.Sleep(backoff)
				if backoff < 30*time.Second {
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
				}
			}
		}
	}
}
