package reconciler

import (
	"context"
	"time"

	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
)

const (
	defaultCountWorkers    = 4                // Number of workers checking deposits against the provider
	defaultProduceInterval = 15 * time.Second // Interval between listing PENDING deposits
	defaultBatchSize       = 100
)

// depositService is the slice of the deposit service the poller needs: list
// what is still owed and push each deposit through the idempotent
// reconciliation step.
type depositService interface {
	ListPending(ctx context.Context, opts repository.ListPendingOpts) ([]models.Deposit, error)
	Reconcile(ctx context.Context, d models.Deposit) (bool, error)
}

type Config struct {
	CountWorkers    int
	ProduceInterval time.Duration
	BatchSize       int
}

// Processor is the pull-side safety net for webhook delivery: it periodically
// asks the provider about every PENDING deposit and credits the ones that
// were paid while the webhook was lost, delayed or misconfigured.
type Processor struct {
	consumer *Consumer
	producer *Producer
}

func New(cfg Config, deposits depositService, l logger.Logger) *Processor {
	if cfg.CountWorkers == 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.ProduceInterval == 0 {
		cfg.ProduceInterval = defaultProduceInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Processor{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			deposits:     deposits,
			logger:       l,
		},
		producer: &Producer{
			interval:  cfg.ProduceInterval,
			batchSize: cfg.BatchSize,
			deposits:  deposits,
			logger:    l,
		},
	}
}

func (p *Processor) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	depositChan := make(chan models.Deposit)

	// Start producer to list pending deposits
	producerStopped := p.producer.Produce(ctx, depositChan)

	// Start consumer to reconcile them against the provider
	consumerStopped := p.consumer.Consume(ctx, depositChan)

	go func() {
		defer close(idleStopped)
		defer close(depositChan)
		<-producerStopped
		<-consumerStopped
		p.consumer.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}
