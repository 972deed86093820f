// Package bus implements the durable event bus connecting producers to the
// notification consumer over RabbitMQ.
//
// This file provides the supervised connection. The broker link is a
// long-lived resource that churns: the supervisor goroutine owns the
// connection, redials with exponential backoff when it drops, and re-declares
// the topology on every successful (re)connect. The rest of the system sees a
// stable Publish/Consume surface regardless of the churn underneath.
//
// Delivery semantics:
//   - Publish marks messages persistent and returns an error when the broker
//     is unreachable; the producer decides whether that fails the originating
//     request or is logged and ignored.
//   - Consume acks a message when the handler returns nil, and nacks it
//     WITHOUT requeue on any handler error or panic, which routes it to the
//     dead-letter queue. One failure is terminal for a delivery; there is no
//     in-line retry.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable is returned by Publish while the broker link is down.
var ErrUnavailable = errors.New("event bus unavailable")

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error (or panicking) dead-letters it.
type Handler func(ctx context.Context, routingKey string, payload []byte) error

// Publisher is the producer-side surface. Services that only emit events
// depend on this interface, not on the concrete connection.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

var (
	busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total messages published to the event exchange by routing key.",
		},
		[]string{"routing_key"},
	)
	busConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total messages consumed from the work queue by routing key and outcome (ack|dead_letter).",
		},
		[]string{"routing_key", "outcome"},
	)
	busReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Total broker reconnect attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(busPublished, busConsumed, busReconnects)
}

// Options configures the supervised connection.
type Options struct {
	URL          string
	ReconnectMin time.Duration // initial redial backoff; defaults to 1s
	ReconnectMax time.Duration // backoff ceiling; defaults to 30s
}

// Conn is a supervised AMQP connection. Construct with New, then call Run
// once in a background goroutine; Publish and Consume are safe for
// concurrent use from there on.
type Conn struct {
	opts Options

	mu sync.RWMutex
	// ch is the current channel, nil while disconnected.
	ch   *amqp.Channel
	conn *amqp.Connection

	// ready is closed (and replaced) each time a connection is established,
	// letting Consume wait for the link without polling.
	ready chan struct{}

	// dial is a seam for tests.
	dial func(url string) (*amqp.Connection, error)
}

// New constructs a supervised connection. No I/O happens until Run.
func New(opts Options) *Conn {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Conn{
		opts:  opts,
		ready: make(chan struct{}),
		dial:  amqp.Dial,
	}
}

// Run owns the broker link until ctx is canceled: dial, declare topology,
// then block until the connection drops, and redial with exponential
// backoff. Call it once, in its own goroutine.
func (c *Conn) Run(ctx context.Context) {
	backoff := c.opts.ReconnectMin
	for {
		closed, err := c.connect()
		if err != nil {
			log.Error().Err(err).Dur("retry_in", backoff).Msg("event bus connect failed")
			busReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, c.opts.ReconnectMin, c.opts.ReconnectMax)
			continue
		}

		log.Info().Msg("event bus connected")
		backoff = c.opts.ReconnectMin

		select {
		case <-ctx.Done():
			c.teardown()
			return
		case err := <-closed:
			log.Warn().Err(err).Msg("event bus connection lost")
			c.teardown()
			busReconnects.Inc()
		}
	}
}

// connect dials, opens a channel, declares topology, and publishes the new
// channel to readers. Returns the connection's close notification channel.
func (c *Conn) connect() (chan *amqp.Error, error) {
	conn, err := c.dial(c.opts.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	close(c.ready)
	c.mu.Unlock()

	return closed, nil
}

// teardown drops the current channel and arms a fresh ready gate.
func (c *Conn) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.ch = nil
	c.ready = make(chan struct{})
	c.mu.Unlock()
}

// channel returns the live channel or ErrUnavailable.
func (c *Conn) channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ch == nil {
		return nil, ErrUnavailable
	}
	return c.ch, nil
}

// waitReady blocks until a connection is established or ctx is done.
func (c *Conn) waitReady(ctx context.Context) error {
	c.mu.RLock()
	ready := c.ready
	connected := c.ch != nil
	c.mu.RUnlock()
	if connected {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	}
}

// Publish marshals payload as JSON and publishes it persistently under
// routingKey. It does not buffer: while the link is down the error is
// returned immediately and the producer chooses its policy.
func (c *Conn) Publish(ctx context.Context, routingKey string, payload any) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	err = ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	busPublished.WithLabelValues(routingKey).Inc()
	log.Debug().Str("routing_key", routingKey).Msg("event published")
	return nil
}

// Consume pulls messages off the work queue and feeds them to h until ctx is
// canceled. It survives connection churn by waiting for the supervisor to
// re-establish the link and resubscribing.
func (c *Conn) Consume(ctx context.Context, h Handler) error {
	for {
		if err := c.waitReady(ctx); err != nil {
			return err
		}
		ch, err := c.channel()
		if err != nil {
			continue // lost the link between waitReady and here
		}

		deliveries, err := ch.Consume(Queue, "", false, false, false, false, nil)
		if err != nil {
			log.Error().Err(err).Msg("consume setup failed, waiting for reconnect")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.ReconnectMin):
			}
			continue
		}

		if err := c.drain(ctx, deliveries, h); err != nil {
			return err
		}
		// deliveries closed: connection dropped, loop and resubscribe.
	}
}

// drain processes deliveries until the channel closes (returns nil) or ctx
// is done (returns ctx.Err()).
func (c *Conn) drain(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if dispatch(ctx, h, d.RoutingKey, d.Body) {
				if err := d.Ack(false); err != nil {
					log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("ack failed")
				}
				busConsumed.WithLabelValues(d.RoutingKey, "ack").Inc()
			} else {
				// Nack without requeue: the broker redirects the message to
				// the dead-letter exchange. No automatic retry.
				if err := d.Nack(false, false); err != nil {
					log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("nack failed")
				}
				busConsumed.WithLabelValues(d.RoutingKey, "dead_letter").Inc()
			}
		}
	}
}

// dispatch invokes the handler for one delivery and reports whether the
// message should be acknowledged. A handler panic is contained here so a
// poison message cannot take the consumer process down with it.
func dispatch(ctx context.Context, h Handler, routingKey string, body []byte) (ack bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("routing_key", routingKey).
				Msg("handler panic, dead-lettering message")
			ack = false
		}
	}()

	if err := h(ctx, routingKey, body); err != nil {
		log.Error().Err(err).Str("routing_key", routingKey).Msg("event processing failed, dead-lettering")
		return false
	}
	return true
}

// nextBackoff doubles cur within [min, max].
func nextBackoff(cur, min, max time.Duration) time.Duration {
	next := cur * 2
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	return next
}
