// Notification consumption pipeline.
//
// The notification service is the single consumer of the event work queue.
// For each event it persists a notification row and then pushes it to the
// owner's realtime group. Persistence is the hard guarantee: a database
// failure rejects the delivery so the broker redelivers or dead-letters it.
// The realtime push is best effort — a user who is offline simply finds the
// notification in the list later.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/socialhub/go-social-backend/internal/bus"
	"github.com/socialhub/go-social-backend/internal/domain"
	"github.com/socialhub/go-social-backend/internal/realtime"
	"github.com/socialhub/go-social-backend/internal/repo"
)

// NotificationService turns bus events into stored notifications and
// realtime pushes.
type NotificationService struct {
	DB        *gorm.DB
	Broadcast realtime.Broadcaster

	// Retention bounds how long notifications are kept; the janitor purges
	// rows older than this.
	Retention time.Duration
}

// HandleEvent is the bus.Handler consuming the work queue. A nil return acks
// the delivery; an error rejects it to the dead-letter queue.
func (s *NotificationService) HandleEvent(ctx context.Context, routingKey string, payload []byte) error {
	switch routingKey {
	case bus.RouteUserCreated:
		return s.onUserCreated(ctx, payload)
	case bus.RoutePostCreated:
		return s.onPostCreated(ctx, payload)
	default:
		// A widened binding or a producer bug. Ack and move on; rejecting
		// would just cycle the message through the DLQ for no benefit.
		log.Warn().Str("routing_key", routingKey).Msg("ignoring event with unknown routing key")
		return nil
	}
}

func (s *NotificationService) onUserCreated(ctx context.Context, payload []byte) error {
	var evt domain.UserCreatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ID == "" {
		return fmt.Errorf("%w: user.created: %v", ErrMalformedEvent, err)
	}

	return s.deliver(ctx, evt.ID, domain.NotificationSuccess,
		"Welcome!",
		fmt.Sprintf("Hi %s, welcome to SocialHub!", evt.Name),
		payload)
}

func (s *NotificationService) onPostCreated(ctx context.Context, payload []byte) error {
	var evt domain.PostCreatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.AuthorID == "" {
		return fmt.Errorf("%w: post.created: %v", ErrMalformedEvent, err)
	}

	return s.deliver(ctx, evt.AuthorID, domain.NotificationInfo,
		"Post Created",
		fmt.Sprintf("Your post %q has been published.", evt.Title),
		payload)
}

// deliver persists the notification, then pushes it to the owner's realtime
// group. Only the persistence step can fail the delivery.
func (s *NotificationService) deliver(ctx context.Context, userID, typ, title, message string, data []byte) error {
	n, err := repo.CreateNotification(ctx, s.DB, userID, typ, title, message, data)
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if s.Broadcast != nil {
		if err := s.Broadcast.Broadcast(ctx, userID, "notification", n); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("notification_id", n.ID).
				Msg("realtime push failed")
		}
	}
	return nil
}

// RunJanitor purges expired notifications on the given interval until ctx is
// canceled. Reads already exclude expired rows; the janitor reclaims the
// space.
func (s *NotificationService) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := time.Now().UTC().Add(-s.Retention)
			n, err := repo.PurgeExpiredNotifications(ctx, s.DB, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("notification purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("expired notifications removed")
			}
		}
	}
}
