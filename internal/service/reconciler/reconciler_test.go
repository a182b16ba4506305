package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
)

// fakeDeposits serves a fixed pending list and records reconcile calls
type fakeDeposits struct {
	mu         sync.Mutex
	pending    []models.Deposit
	reconciled map[string]int
	reconcile  func(d models.Deposit) (bool, error)
}

func (f *fakeDeposits) ListPending(_ context.Context, opts repository.ListPendingOpts) ([]models.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeDeposits) Reconcile(_ context.Context, d models.Deposit) (bool, error) {
	f.mu.Lock()
	f.reconciled[d.ExternalID]++
	f.mu.Unlock()

	if f.reconcile != nil {
		return f.reconcile(d)
	}
	return true, nil
}

func (f *fakeDeposits) calls(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconciled[externalID]
}

func TestProcessor(t *testing.T) {
	t.Parallel()

	t.Run("reconciles pending deposits on every tick", func(t *testing.T) {
		deposits := &fakeDeposits{
			pending: []models.Deposit{
				{ExternalID: "DEP_1", Status: models.DepositStatusPending},
				{ExternalID: "DEP_2", Status: models.DepositStatusPending},
			},
			reconciled: map[string]int{},
		}

		p := New(Config{ProduceInterval: 10 * time.Millisecond, CountWorkers: 2}, deposits, nil)

		ctx, cancel := context.WithCancel(t.Context())
		stopped := p.Process(ctx)

		require.Eventually(t, func() bool {
			return deposits.calls("DEP_1") >= 1 && deposits.calls("DEP_2") >= 1
		}, time.Second, 5*time.Millisecond, "both pending deposits should be checked")

		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("processor did not stop after context cancellation")
		}
	})

	t.Run("stops cleanly with nothing pending", func(t *testing.T) {
		deposits := &fakeDeposits{reconciled: map[string]int{}}

		p := New(Config{ProduceInterval: 5 * time.Millisecond}, deposits, nil)

		ctx, cancel := context.WithCancel(t.Context())
		stopped := p.Process(ctx)

		time.Sleep(25 * time.Millisecond)
		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("processor did not stop after context cancellation")
		}

		assert.Empty(t, deposits.reconciled)
	})

	t.Run("defaults applied", func(t *testing.T) {
		deposits := &fakeDeposits{reconciled: map[string]int{}}

		p := New(Config{}, deposits, nil)

		require.Equal(t, defaultCountWorkers, p.consumer.countWorkers)
		require.Equal(t, defaultProduceInterval, p.producer.interval)
		require.Equal(t, defaultBatchSize, p.producer.batchSize)
	})
}
