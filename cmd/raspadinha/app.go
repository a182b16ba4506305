package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raspadinha/raspadinha/internal/db"
	"github.com/raspadinha/raspadinha/internal/handlers"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/metrics"
	"github.com/raspadinha/raspadinha/internal/notify"
	"github.com/raspadinha/raspadinha/internal/repository/postgres"
	"github.com/raspadinha/raspadinha/internal/service/authtoken"
	"github.com/raspadinha/raspadinha/internal/service/deposit"
	"github.com/raspadinha/raspadinha/internal/service/gateway"
	"github.com/raspadinha/raspadinha/internal/service/ledger"
	"github.com/raspadinha/raspadinha/internal/service/reconciler"
)

type ServerApp struct {
	ListenAddr  string
	MetricsAddr string
	Handler     http.Handler

	logger     logger.Logger
	reconciler *reconciler.Processor
	subscriber func(ctx context.Context)
	health     metrics.HealthFunc
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Redis fanout of balance changes between instances. Optional: without it
	// live updates only reach clients connected to the writing instance.
	var rdb *redis.Client
	var publisher *notify.Publisher
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		publisher = notify.NewPublisher(rdb)
	}
	hub := notify.NewHub(nil)

	// Initialize services
	tokens, err := authtoken.New(authtoken.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	ledgerService := ledger.NewService(ledger.Config{AutoCreateAccounts: true}, storage, publisher, logger)
	gatewayClient := gateway.NewClient(c.GatewayAddr, c.GatewayAPIKey, logger)
	depositService := deposit.NewService(
		deposit.Config{CallbackURL: c.CallbackURL},
		storage,
		ledgerService,
		gatewayClient,
		logger,
	)
	processor := reconciler.New(reconciler.Config{ProduceInterval: c.PollInterval}, depositService, logger)

	mux := handlers.NewRouter(
		handlers.RouterConfig{
			WebhookSecret:  c.WebhookSecret,
			AdminTokenHash: c.AdminTokenHash,
		},
		tokens,
		depositService,
		ledgerService,
		http.HandlerFunc(hub.HandleWS),
		logger,
	)

	health := func(ctx context.Context) error {
		return pool.Ping(ctx)
	}

	subscriber := func(ctx context.Context) {
		if rdb != nil {
			notify.StartSubscriber(ctx, rdb, hub, logger)
		}
	}

	return &ServerApp{
		ListenAddr:  c.ListenAddr,
		MetricsAddr: c.MetricsAddr,
		Handler:     mux,

		logger:     logger,
		reconciler: processor,
		subscriber: subscriber,
		health:     health,
	}, nil
}

// Run starts the http server, the reconciliation poller and the metrics side
// listener, and closes all of them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	s.subscriber(srvCtx)
	reconcilerStopped := s.reconciler.Process(srvCtx)
	metricsServer := metrics.StartServer(s.MetricsAddr, s.health)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		_ = metricsServer.Shutdown(timeoutCtx)

		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reconcilerStopped

	return err
}
