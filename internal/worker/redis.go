package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"lexchat/internal/redis"
)

const redisCancelChannel = "worker:cancel"

type cancelMessage struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin"`
}

// Broadcaster relays user cancellations between instances over redis pub/sub.
type Broadcaster struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, origin: uuid.NewString(), logger: logger}
}

// listen subscribes and calls handler for cancellations published by other
// instances until ctx ends. It returns once the subscription is confirmed.
func (b *Broadcaster) listen(ctx context.Context, handler func(userID string)) error {
	if b == nil || b.client == nil || handler == nil {
		return nil
	}
	pubsub, err := b.client.Subscribe(ctx, redisCancelChannel)
	if err != nil {
		return err
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", redisCancelChannel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var cm cancelMessage
				if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
					b.logger.Warn("worker cancel decode failed", "error", err)
					continue
				}
				if cm.Origin == b.origin || cm.UserID == "" {
					continue
				}
				handler(cm.UserID)
			}
		}
	}()
	return nil
}

func (b *Broadcaster) publish(ctx context.Context, userID string) {
	if b == nil || b.client == nil {
		return
	}
	payload, err := json.Marshal(cancelMessage{UserID: userID, Origin: b.origin})
	if err != nil {
		b.logger.Warn("worker cancel marshal failed", "error", err)
		return
	}
	if err := b.client.Publish(ctx, redisCancelChannel, payload); err != nil {
		b.logger.Warn("worker cancel publish failed", "user_id", userID, "error", err)
	}
}
