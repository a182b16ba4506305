package reconciler

import (
	"context"
	"time"

	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
)

type Producer struct {
	interval  time.Duration
	batchSize int
	deposits  depositService
	logger    logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Deposit) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				p.logger.Debug("Producer tick: fetching pending deposits")

				deposits, err := p.deposits.ListPending(ctx, repository.ListPendingOpts{
					Limit: p.batchSize,
				})
				if err != nil {
					p.logger.Error("Failed to list pending deposits", "error", err)
					continue
				}

				// Send deposits to the output channel
				for _, d := range deposits {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending deposits")
						return
					case out <- d:
						p.logger.Debug("Deposit sent to channel", "external_id", d.ExternalID)
					}
				}
			}
		}
	}()

	return idleStopped
}
