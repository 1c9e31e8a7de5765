package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensharehq/pointsledger/internal/db"
	"github.com/opensharehq/pointsledger/internal/handlers"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/repository/postgres"
	"github.com/opensharehq/pointsledger/internal/service/allocator"
	"github.com/opensharehq/pointsledger/internal/service/contract"
	"github.com/opensharehq/pointsledger/internal/service/contract/signprovider"
	"github.com/opensharehq/pointsledger/internal/service/ledger"
	"github.com/opensharehq/pointsledger/internal/service/notify"
	"github.com/opensharehq/pointsledger/internal/service/withdrawal"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
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

	// Initialize services
	notifier := &notify.LogNotifier{Logger: logger}
	ledgerService := ledger.NewService(storage, notifier, logger)

	signClient := signprovider.NewClient(c.SignProviderAddr, logger)
	contractService := contract.NewService(
		contract.Config{Required: c.RequireContract},
		storage, signClient, notifier, logger,
	)
	withdrawalService := withdrawal.NewService(storage, ledgerService, contractService, notifier, logger)
	allocatorService := allocator.NewService(storage, ledgerService, logger)

	mux := handlers.NewRouter(
		c.SecretKey,
		ledgerService,
		withdrawalService,
		contractService,
		allocatorService,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
