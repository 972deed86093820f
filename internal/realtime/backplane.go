// Redis pub/sub backplane.
//
// Emits are published on one shared channel; every process subscribes and
// replays received envelopes to its local hub. A process's own publishes come
// back through the subscription, so local delivery happens exactly once —
// through the replay path — except when Redis is down, in which case Emit
// falls back to delivering locally so single-process deployments keep
// working.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// channel is the shared pub/sub channel all processes meet on.
const channel = "realtime:events"

// Broadcaster fans an event out to every member of a group, across all
// processes.
type Broadcaster interface {
	Broadcast(ctx context.Context, group, event string, payload any) error
}

// Backplane links a local Hub to the shared Redis channel.
type Backplane struct {
	hub *Hub
	rdb redis.UniversalClient
}

// NewBackplane constructs a Backplane over rdb feeding hub. Call Run to start
// relaying.
func NewBackplane(hub *Hub, rdb redis.UniversalClient) *Backplane {
	return &Backplane{hub: hub, rdb: rdb}
}

// Broadcast publishes the event to the shared channel. When Redis is
// unreachable it degrades to local-only delivery and reports nil; realtime
// delivery is best effort by contract.
func (b *Backplane) Broadcast(ctx context.Context, group, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Group: group, Event: event, Payload: raw}

	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		log.Warn().Err(err).Str("group", group).Str("event", event).
			Msg("backplane publish failed, delivering locally only")
		b.hub.Emit(env)
	}
	return nil
}

// Run subscribes to the shared channel and replays envelopes to the local hub
// until ctx is canceled. The subscription is re-established after transport
// errors.
func (b *Backplane) Run(ctx context.Context) {
	for {
		if err := b.consume(ctx); err != nil {
			log.Warn().Err(err).Msg("backplane subscription lost, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *Backplane) consume(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("dropping malformed backplane message")
				continue
			}
			b.hub.Emit(env)
		}
	}
}

// LocalBroadcaster delivers to the local hub only. Used in tests and in
// deployments without Redis.
type LocalBroadcaster struct {
	Hub *Hub
}

// Broadcast delivers the event to local group members.
func (l LocalBroadcaster) Broadcast(_ context.Context, group, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	l.Hub.Emit(Envelope{Group: group, Event: event, Payload: raw})
	return nil
}
