package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher fans ledger balance changes out to all service instances.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) PublishBalance(ctx context.Context, event BalanceEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal balance event: %w", err)
	}

	if err := p.rdb.Publish(ctx, Channel, b).Err(); err != nil {
		return fmt.Errorf("publish balance event: %w", err)
	}

	return nil
}
