// Package app assembles the fulfillment service: storage, queue workers, the
// saga orchestrator, the event relay and the HTTP edge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Pritam499/e-commerce-sub001/internal/config"
	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/httpapi"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/notify"
	"github.com/Pritam499/e-commerce-sub001/internal/order"
	"github.com/Pritam499/e-commerce-sub001/internal/payment"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/internal/relay"
	"github.com/Pritam499/e-commerce-sub001/internal/saga"
	"github.com/Pritam499/e-commerce-sub001/internal/storage"
	"github.com/Pritam499/e-commerce-sub001/internal/ws"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type App struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.Store
	bus          *events.Bus
	queue        queue.Queue
	pool         *queue.Pool
	metrics      *queue.Metrics
	orchestrator *saga.Orchestrator
	relay        *relay.Relay
	publisher    relay.Publisher
	wsHub        *ws.Hub
	unbridge     func()
	httpSrv      *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	var (
		store        *storage.Store
		journal      events.Journal
		ledger       inventory.Ledger
		jobQueue     queue.Queue
		orderStore   order.Store
		paymentStore payment.Store
	)
	switch cfg.StoreMode {
	case "memory":
		// Dev mode: everything in process, nothing survives a restart.
		logger.Warn("running with in-memory stores, state is not durable")
		journal = events.NewMemoryJournal()
		ledger = inventory.NewMemoryLedger()
		jobQueue = queue.NewMemoryQueue()
		orderStore = order.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
	case "postgres":
		var err error
		store, err = storage.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		journal = events.NewPgJournal(store.Pool())
		ledger = inventory.NewPgLedger(store.Pool())
		jobQueue = queue.NewPgQueue(store.Pool())
		orderStore = order.NewPgStore(store.Pool())
		paymentStore = payment.NewPgStore(store.Pool())
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.StoreMode)
	}

	bus := events.New(logger, journal)
	metrics := queue.NewMetrics(prometheus.DefaultRegisterer)

	orderSvc := order.NewService(orderStore, ledger, bus, jobQueue, &notify.LogSender{}, logger, order.Config{
		DiscountEvery:   cfg.DiscountEvery,
		DiscountPercent: cfg.DiscountPercent,
		CartIdleWindow:  cfg.CartIdleWindow,
		ReservationTTL:  cfg.ReservationTTL,
		LowStockWarn:    true,
	})

	gateway := payment.NewSimulatedGateway()
	gateway.MaxAmountCents = cfg.PaymentMaxCents
	payments := payment.NewProcessor(paymentStore, gateway, logger)

	pool := queue.NewPool(jobQueue, bus, logger, metrics, []queue.QueueSpec{
		{Name: contracts.QueueOrderProcessing, Workers: 4, HandlerTimeout: cfg.HandlerTimeout, PollInterval: cfg.WorkerPollInterval},
		{Name: contracts.QueuePaymentProcessing, Workers: 4, HandlerTimeout: cfg.HandlerTimeout, PollInterval: cfg.WorkerPollInterval},
		{Name: contracts.QueueInventoryUpdates, Workers: 2, HandlerTimeout: cfg.HandlerTimeout, PollInterval: cfg.WorkerPollInterval},
		{Name: contracts.QueueEmailNotifications, Workers: 2, HandlerTimeout: cfg.HandlerTimeout, PollInterval: cfg.WorkerPollInterval},
		{Name: contracts.QueueCartAbandonment, Workers: 1, HandlerTimeout: cfg.HandlerTimeout, PollInterval: cfg.WorkerPollInterval},
	})
	pool.Register(contracts.JobOrderCreation, orderSvc.HandleOrderCreation)
	pool.Register(contracts.JobPaymentProcessing, payments.HandlePaymentJob)
	pool.Register(contracts.JobInventoryUpdate, orderSvc.HandleInventoryUpdate)
	pool.Register(contracts.JobOrderConfirmation, orderSvc.HandleOrderConfirmation)
	pool.Register(contracts.JobCartRecoveryEmail, orderSvc.HandleCartRecovery)
	pool.Register(contracts.JobCartSweep, orderSvc.HandleCartSweep)
	pool.Register(contracts.JobReservationSweep, orderSvc.HandleReservationSweep)

	orchestrator := saga.NewOrchestrator(jobQueue, bus, ledger, orderSvc, metrics, logger)
	orchestrator.Register()

	// The relay reads the durable journal, so it only runs against postgres.
	var (
		publisher  relay.Publisher
		eventRelay *relay.Relay
	)
	if store != nil {
		var err error
		publisher, err = relay.NewRabbitPublisher(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			store.Close()
			return nil, err
		}
		eventRelay = relay.New(store.Pool(), publisher, cfg.RelayInterval, cfg.RelayBatchSize, logger)
	}

	wsHub := ws.NewHub()
	unbridge := wsHub.Bridge(bus)
	wsHandler := ws.NewHandler(wsHub, journal, logger)

	api := httpapi.NewServer(orderSvc, payments, jobQueue, ledger, journal, wsHandler, logger)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		bus:          bus,
		queue:        jobQueue,
		pool:         pool,
		metrics:      metrics,
		orchestrator: orchestrator,
		relay:        eventRelay,
		publisher:    publisher,
		wsHub:        wsHub,
		unbridge:     unbridge,
		httpSrv:      httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.scheduleSweeps(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	if a.relay != nil {
		a.relay.Start(ctx)
	}
	go a.wsHub.Run(ctx)
	go a.pool.Run(ctx)
	go a.metrics.WatchDepth(ctx, a.queue, []string{
		contracts.QueueOrderProcessing,
		contracts.QueuePaymentProcessing,
		contracts.QueueInventoryUpdates,
		contracts.QueueEmailNotifications,
		contracts.QueueCartAbandonment,
	}, 10*time.Second)

	go func() {
		a.logger.Info("fulfillment http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// scheduleSweeps enqueues the recurring maintenance jobs. The deterministic
// ids make restarts idempotent.
func (a *App) scheduleSweeps(ctx context.Context) error {
	sweeps := []queue.Job{
		{
			ID:          "sweep:" + contracts.JobCartSweep,
			Queue:       contracts.QueueCartAbandonment,
			Type:        contracts.JobCartSweep,
			RepeatEvery: a.cfg.CartSweepInterval,
		},
		{
			ID:          "sweep:" + contracts.JobReservationSweep,
			Queue:       contracts.QueueInventoryUpdates,
			Type:        contracts.JobReservationSweep,
			RepeatEvery: a.cfg.ReservationSweep,
		},
	}
	for _, job := range sweeps {
		if _, err := a.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Type, err)
		}
	}
	return nil
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.unbridge()
	a.orchestrator.Close()
	a.bus.Drain()
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(context.Background())

	return app.Run(ctx)
}
