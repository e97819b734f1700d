// cmd/commerce-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.uber.org/zap"

	"dinein-commerce/internal/api"
	"dinein-commerce/internal/commerce"
	"dinein-commerce/internal/common/aws"
	"dinein-commerce/internal/common/camunda"
	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/database"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/observability"
	"dinein-commerce/internal/dedupe"
	"dinein-commerce/internal/exchange"
	"dinein-commerce/internal/flows"
	"dinein-commerce/internal/guard"
	"dinein-commerce/internal/notify"
	"dinein-commerce/internal/staff"
	"dinein-commerce/internal/state"
	"dinein-commerce/internal/venues"
	"dinein-commerce/internal/webhook"
	"dinein-commerce/internal/whatsapp"
	"dinein-commerce/pkg/registry"

	dn "dinein-commerce/internal/workers/notifications/deliver-notifications"
	uos "dinein-commerce/internal/workers/orders/update-order-status"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting commerce server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	checks := []api.Check{
		{Name: "postgres", Ping: pg.Ping},
		{Name: "redis", Ping: rdb.Ping},
	}

	// --- Venue directory and discovery ---
	directory := venues.NewDirectory(pg.DB, log)
	catalog := venues.NewCatalog(pg.DB, log)

	var (
		finder  venues.Finder = directory
		indexer venues.Indexer
	)
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, discovery falls back to SQL", zap.Error(err))
		} else {
			search := venues.NewSearch(esClient.Client, cfg.Database.Elasticsearch.VenueIndex, log)
			if err := search.EnsureIndex(ctx); err != nil {
				zapLog.Fatal("venue index setup failed", zap.Error(err))
			}
			finder, indexer = search, search
			checks = append(checks, api.Check{Name: "elasticsearch", Ping: esClient.Ping})
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Zeebe ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		checks = append(checks, api.Check{Name: "zeebe", Ping: zeebe.HealthCheck})
		zapLog.Info("Zeebe client connected successfully")
	}

	// --- Outbound channels ---
	wa := whatsapp.NewClient(cfg.WhatsApp, log)

	var sms notify.SMSSender
	if cfg.Notifications.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.AWS.SNS.DefaultSMSSenderID)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		sms = snsClient
	}
	var email notify.EmailSender
	if cfg.Notifications.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.AWS.SES.FromEmail)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		email = sesClient
	}
	transport := notify.NewTransport(wa, sms, email, log)

	// --- Notifications ---
	queue := notify.NewQueue(pg.DB, notify.RetryPolicyFromConfig(cfg.Notifications),
		config.GetDuration(cfg.Notifications.Delivery.Lease), clk, log)
	auditor := notify.NewPostgresAuditor(pg.DB, clk, log)
	windows := notify.NewRedisWindowStore(rdb.Client, rdb.Prefix, clk)
	policy, err := notify.NewPolicy(cfg.Notifications, windows, log,
		notify.WithSettings(directory),
		notify.WithAuditor(auditor),
		notify.WithPolicyClock(clk),
	)
	if err != nil {
		zapLog.Fatal("notification policy config invalid", zap.Error(err))
	}
	admin := notify.NewAdmin(queue, policy, auditor, log)

	// --- Commerce, staff and conversations ---
	engineOpts := []commerce.Option{commerce.WithClock(clk)}
	if zeebe != nil {
		engineOpts = append(engineOpts, commerce.WithEventPublisher(zeebe))
	}
	orders := commerce.NewEngine(pg.DB, directory, queue, log, engineOpts...)
	staffService := staff.NewService(pg.DB, directory, queue, cfg.Staff, log, staff.WithClock(clk))

	store := state.NewPostgresStore(pg.DB,
		state.WithCache(rdb.Client, rdb.Prefix, time.Duration(cfg.State.CacheTTL)*time.Second),
		state.WithClock(clk),
		state.WithLogger(log),
	)
	var flowOpts []flows.EngineOption
	if indexer != nil {
		flowOpts = append(flowOpts, flows.WithIndexer(indexer))
	}
	conversations := flows.NewEngine(store, directory, catalog, orders, staffService, finder, log, flowOpts...)
	gate := guard.New(guard.NewPostgresPreferences(pg.DB, clk), conversations, log)

	// --- Exchange protocol ---
	reg, err := registry.LoadRegistry(cfg.Exchange.RegistryPath)
	if err != nil {
		zapLog.Fatal("flow registry load failed", zap.Error(err), zap.String("path", cfg.Exchange.RegistryPath))
	}
	idempotencyTTL := time.Duration(cfg.Exchange.IdempotencyTTL) * time.Second
	router, err := exchange.NewRouter(reg, dedupe.NewRedisGuard(rdb.Client, rdb.Prefix, idempotencyTTL), log)
	if err != nil {
		zapLog.Fatal("flow registry schemas invalid", zap.Error(err))
	}
	router.Register(exchange.FlowCustomerMenu, exchange.NewCustomerMenu(catalog, directory, orders, log))
	router.Register(exchange.FlowVendorOnboard, exchange.NewVendorOnboard(directory, catalog, indexer, log))
	router.Register(exchange.FlowVendorOrders, exchange.NewVendorOrders(directory, orders, log))

	dispatcher := webhook.NewDispatcher(gate, wa, dedupe.NewRedisGuard(rdb.Client, rdb.Prefix, idempotencyTTL), log)

	// --- Workers ---
	delivery := dn.NewHandler(dn.LoadConfig(cfg), queue, policy, gate, transport, clk, obs, log)
	go delivery.Run(ctx)

	var jobWorkers []worker.JobWorker
	if zeebe != nil {
		if w := camunda.StartWorker(zeebe.GetClient(), uos.TaskType, cfg.Workers[uos.TaskType],
			uos.NewHandler(uos.LoadConfig(cfg), orders, log), zapLog); w != nil {
			jobWorkers = append(jobWorkers, w)
		}
		if w := camunda.StartWorker(zeebe.GetClient(), dn.TaskType, cfg.Workers[dn.TaskType], delivery, zapLog); w != nil {
			jobWorkers = append(jobWorkers, w)
		}
	}

	// --- HTTP ---
	srv := api.NewServer(router, dispatcher, admin,
		api.WebhookConfig{VerifyToken: cfg.WhatsApp.VerifyToken, AppSecret: cfg.WhatsApp.AppSecret},
		log,
		api.WithChecks(config.GetDuration(cfg.Database.QueryTimeout), checks...),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           http.TimeoutHandler(srv.Handler(), config.GetDuration(cfg.HTTP.RequestTimeout), "request timed out"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
	for _, w := range jobWorkers {
		w.Close()
		w.AwaitClose()
	}
	zapLog.Info("Shutdown complete")
}
