package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/raspadinha/raspadinha/internal/logger"
)

// StartSubscriber listens to the balance channel and forwards events to the
// hub until the context is cancelled.
func StartSubscriber(ctx context.Context, rdb *redis.Client, hub *Hub, l logger.Logger) {
	sub := rdb.Subscribe(ctx, Channel)
	ch := sub.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var event BalanceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					l.Error("Failed to decode balance event", "error", err)
					continue
				}
				hub.Broadcast(event)
			}
		}
	}()
}
