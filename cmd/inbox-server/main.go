// Command inbox-server receives Stripe webhooks, buffers them, and runs the
// processing workers in one process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-command"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	inbox "github.com/goliatone/go-webhook-inbox"
	"github.com/goliatone/go-webhook-inbox/adapters/gocommand"
	"github.com/goliatone/go-webhook-inbox/adapters/gojob"
	"github.com/goliatone/go-webhook-inbox/adapters/gologger"
	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/goliatone/go-webhook-inbox/fulfillment"
	"github.com/goliatone/go-webhook-inbox/httpapi"
	inboxmigrations "github.com/goliatone/go-webhook-inbox/migrations"
	"github.com/goliatone/go-webhook-inbox/notify"
	sqlstore "github.com/goliatone/go-webhook-inbox/store/sql"
	"github.com/goliatone/go-webhook-inbox/taskqueue"
	"github.com/goliatone/go-webhook-inbox/webhooks"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	logger := gologger.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := loadServerConfig(os.LookupEnv)
	if err != nil {
		logger.Error("invalid server configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("inbox server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("inbox server exited")
}

func run(ctx context.Context, cfg serverConfig, logger *gologger.SlogLogger) error {
	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	var eventStore sqlstore.BufferedEventStore = stores.EventStore()
	if cfg.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fmt.Errorf("inbox-server: event cache: %w", err)
		}
		if eventStore, err = sqlstore.NewCachedEventStore(eventStore, cacheService); err != nil {
			return err
		}
	}

	var redisClient redis.UniversalClient
	if cfg.QueueBackend == "redis" || cfg.NotifyBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("inbox-server: redis ping: %w", err)
		}
	}

	loaded, err := core.NewCfgxConfigProvider(EnvConfigLoader{}).Load(ctx, core.DefaultConfig())
	if err != nil {
		return err
	}

	lanes, err := openQueue(cfg, loaded, redisClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = lanes.close() }()

	publisher, closePublisher, err := openPublisher(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closePublisher()

	hooks := inbox.NewExtensionHooks()
	if cfg.Fulfillment {
		if err := registerFulfillment(hooks, cfg, loaded, stores.FulfillmentStore(), logger); err != nil {
			return err
		}
	}
	registry := core.NewHandlerRegistry(logger.GetLogger("inbox.handlers"))
	if err := hooks.ApplyHandlerPacks(registry); err != nil {
		return err
	}

	opts := []inbox.Option{
		inbox.WithLoggerProvider(logger),
		inbox.WithConfigProvider(core.NewCfgxConfigProvider(EnvConfigLoader{})),
		inbox.WithEventStore(eventStore),
		inbox.WithTaskQueue(gojob.NewTaskQueue(lanes.enqueuer)),
		inbox.WithHandlerRegistry(registry),
		inbox.WithWorkerHook(gologger.NewWorkerHook(logger.GetLogger("inbox.worker"))),
	}
	if publisher != nil {
		opts = append(opts, inbox.WithPublisher(publisher))
		if routers := hooks.NotificationRouters(); len(routers) > 0 {
			opts = append(opts, inbox.WithNotificationRouter(routers))
		}
	}
	svc, err := inbox.NewService(inbox.Config{}, opts...)
	if err != nil {
		return err
	}

	commands := gocommand.NewRegistryAdapter(command.NewRegistry())
	subs, err := gocommand.RegisterInbox(commands, svc)
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	if err := commands.Initialize(); err != nil {
		return err
	}

	facade, err := inbox.NewFacade(svc)
	if err != nil {
		return err
	}
	receiver := webhooks.NewReceiver(webhooks.NewStripeVerifier(cfg.StripeSecret), svc)
	receiver.Logger = logger.GetLogger("inbox.webhooks")
	if cfg.StripeSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set; webhook deliveries will be rejected")
	}
	if cfg.AdminToken == "" {
		logger.Warn("INBOX_ADMIN_TOKEN is not set; admin routes are disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		AdminToken:     cfg.AdminToken,
	}, httpapi.Handlers{
		Receiver:   receiver,
		Requeue:    facade.Commands().RequeueEvent,
		ResetStuck: facade.Commands().ResetStuckEvent,
		GetEvent:   facade.Queries().GetEvent,
		ListEvents: facade.Queries().ListEvents,
		Logger:     logger.GetLogger("inbox.http"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	runner := svc.NewWorkerRunner(gojob.NewDequeuerAdapter(lanes.dequeuer, gojob.RetryPolicyFromConfig(svc.Config().Processing)))
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := runner.Run(workerCtx); err != nil {
			logger.Error("worker runner stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("inbox server listening",
			"addr", cfg.Addr,
			"queue_backend", cfg.QueueBackend,
			"notify_backend", cfg.NotifyBackend,
			"workers", svc.Config().Processing.Workers,
		)
		serverErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	// In-flight events finish their terminal writes before the runner returns.
	stopWorkers()
	workers.Wait()
	if err := svc.WaitNotifications(shutdownCtx); err != nil {
		logger.Warn("shutdown before pending notifications were published", "error", err)
	}
	return runErr
}

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-webhook-inbox" }

func openPersistence(ctx context.Context, cfg serverConfig) (*persistence.Client, error) {
	driver := "postgres"
	migrationDialect := inboxmigrations.DialectPostgres
	var dialect schema.Dialect = pgdialect.New()
	if cfg.DBDriver == "sqlite" {
		driver = "sqlite3"
		migrationDialect = inboxmigrations.DialectSQLite
		dialect = sqlitedialect.New()
	}

	sqlDB, err := sql.Open(driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("inbox-server: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, dsn: cfg.DBDSN, debug: cfg.DBDebug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("inbox-server: persistence client: %w", err)
	}
	if cfg.SkipMigrations {
		return client, nil
	}

	migrationOpts := []inboxmigrations.Option{inboxmigrations.WithDialects(migrationDialect)}
	if !cfg.Fulfillment {
		migrationOpts = append(migrationOpts, inboxmigrations.WithSchemas(inboxmigrations.SchemaBufferedEvents))
	}
	if _, err := inboxmigrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrationOpts...); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("inbox-server: migrate: %w", err)
	}
	return client, nil
}

type queueLanes struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	close    func() error
}

func openQueue(cfg serverConfig, loaded core.Config, client redis.UniversalClient, logger glog.Logger) (queueLanes, error) {
	pollTimeout := loaded.Processing.DequeueTimeout
	if cfg.QueueBackend == "redis" {
		// tasks leased by a crashed process come back once the lease expires
		redisQueue := taskqueue.NewRedisQueue(client, loaded.QueueName,
			taskqueue.WithPolling(100*time.Millisecond, pollTimeout),
			taskqueue.WithVisibilityTimeout(core.DefaultStuckAfter),
		)
		return queueLanes{enqueuer: redisQueue, dequeuer: redisQueue, close: func() error { return nil }}, nil
	}
	logger.Warn("using the in-memory task queue; pending tasks are lost on restart and need an admin requeue")
	memQueue := taskqueue.NewMemoryQueue(taskqueue.WithPollTimeout(pollTimeout))
	return queueLanes{enqueuer: memQueue, dequeuer: memQueue, close: memQueue.Close}, nil
}

func openPublisher(ctx context.Context, cfg serverConfig, client redis.UniversalClient) (core.Publisher, func(), error) {
	switch cfg.NotifyBackend {
	case "redis":
		return notify.NewRedisPublisher(client, ""), func() {}, nil
	case "pubsub":
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, nil, fmt.Errorf("inbox-server: pubsub client: %w", err)
		}
		publisher := notify.NewPubSubPublisher(pubsubClient)
		return publisher, func() {
			_ = publisher.Close()
			_ = pubsubClient.Close()
		}, nil
	default:
		return nil, func() {}, nil
	}
}

func registerFulfillment(hooks *inbox.ExtensionHooks, cfg serverConfig, loaded core.Config, store fulfillment.Store, logger *gologger.SlogLogger) error {
	var geocoder fulfillment.Geocoder
	if cfg.MapsAPIKey != "" {
		geocoder = fulfillment.NewGoogleGeocoder(cfg.MapsAPIKey)
	}
	handlerConfig := fulfillment.DefaultConfig()
	handlerConfig.TenantID = cfg.TenantID
	handler, err := fulfillment.NewCheckoutSessionHandler(store, geocoder, handlerConfig)
	if err != nil {
		return err
	}
	handler.Logger = logger.GetLogger("inbox.fulfillment")
	if cfg.TenantID == "" {
		logger.Warn("INBOX_TENANT_ID is not set; checkout sessions will fail until it is configured")
	}
	return hooks.RegisterHandlerPack(inbox.HandlerPack{
		Name: "fulfillment",
		Handlers: map[string]core.EventHandler{
			fulfillment.EventCheckoutSessionCompleted: handler,
		},
		Router: fulfillment.NewNotificationRouter(store, cfg.TenantID, loaded.Notify.Channel),
	})
}
