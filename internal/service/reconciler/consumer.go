package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/service/gateway"
)

type Consumer struct {
	countWorkers int

	// The provider may return rate-limit errors
	// If it does, workers wait until the time is up
	waitUntil atomic.Int64

	deposits depositService
	logger   logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Deposit) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Deposit) {
	for {
		// Wait until rate limit is passed or context is done
		waitUntil := time.Unix(c.waitUntil.Load(), 0)
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				continue
			case <-time.After(time.Until(waitUntil)):
				c.logger.Debug("Worker finished waiting for rate limit to reset")
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case d, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			credited, err := c.deposits.Reconcile(ctx, d)
			var gwErr *gateway.Error

			switch {
			case err == nil:
				if credited {
					c.logger.Info("Deposit credited by reconciler", "external_id", d.ExternalID)
				}

			case errors.As(err, &gwErr):
				switch gwErr.Code {
				case gateway.CodeRetryAfter:
					c.logger.Info("Rate limit exceeded, waiting", "retry_after", gwErr.RetryAfter)
					c.waitUntil.Store(time.Now().Add(gwErr.RetryAfter).Unix())

				case gateway.CodeNotFound:
					// The provider never heard of this transaction. Leave it
					// PENDING and let operators notice via logs.
					c.logger.Warn("Deposit unknown at provider", "external_id", d.ExternalID)

				default:
					c.logger.Error("Unknown error from provider", "error", err, "external_id", d.ExternalID)
				}

			default:
				c.logger.Error("Failed to reconcile deposit", "error", err, "external_id", d.ExternalID)
			}
		}
	}
}
