package main

import (
	"context"
	"log"
	"slices"
	"strings"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/notification"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/refresh"
	"finlink/internal/domain/transaction"
	"finlink/internal/infrastructure/adapters"
	"finlink/internal/infrastructure/crypto"
	"finlink/internal/infrastructure/firebase"
	"finlink/internal/infrastructure/postgres"
	"finlink/internal/infrastructure/postgres/listener"
	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/interfaces/scheduler"
	"finlink/internal/shared/auth"
	"finlink/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB       *postgres.DB
	Registry *connection.Registry
	JWT      *auth.JWT

	// Handlers
	WebhookHandler      *httphandlers.WebhookHandler
	ConnectionHandler   *httphandlers.ConnectionHandler
	AccountHandler      *httphandlers.AccountHandler
	TransactionHandler  *httphandlers.TransactionHandler
	NotificationHandler *httphandlers.NotificationHandler
	CronHandler         *httphandlers.CronHandler
	HealthHandler       *httphandlers.HealthHandler

	// Background work
	Scheduler *scheduler.Scheduler
	Listener  *listener.ConnectionListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString(), postgres.PoolConfig{})
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if cfg.Database.Migrate {
		if err := db.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	dir, err := adapters.Build(cfg.Providers, cfg.Auth.JWTSecret)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Domain services
	registry, err := connection.NewRegistry(connectionRepo, dir)
	if err != nil {
		db.Close()
		return nil, err
	}
	accountService := account.NewService(accountRepo)
	transactionService := transaction.NewService(transactionRepo, accountRepo)
	notificationService := notification.NewService(notificationRepo, newMessenger(ctx, cfg))

	engine := reconcile.NewEngine(registry, accountService, transactionService, dir, notificationService, cfg.Sync.Lookback)
	syncService := refresh.NewService(registry, accountService, engine, dir)
	linkService := link.NewService(registry, engine, syncService, dir, cfg.Providers.RedirectURL)

	polled := pollProviders(cfg.Sync.Providers, dir)
	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Enabled:       cfg.Scheduler.Enabled,
		ScheduleTimes: cfg.Scheduler.ScheduleTimes,
		WorkerCount:   cfg.Scheduler.WorkerCount,
		JobDelay:      cfg.Scheduler.JobDelay,
		QueueSize:     cfg.Scheduler.QueueSize,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		RunOnStartup:  cfg.Scheduler.RunOnStartup,
		JobProvider:   scheduler.ConnectionJobs(syncService, syncService, polled),
	})
	if err != nil {
		registry.Close()
		db.Close()
		return nil, err
	}

	jwt := auth.NewJWT(cfg.Auth.JWTSecret)

	return &Dependencies{
		DB:       db,
		Registry: registry,
		JWT:      jwt,

		WebhookHandler:      httphandlers.NewWebhookHandler(dir, engine, cfg.Providers.Timeout),
		ConnectionHandler:   httphandlers.NewConnectionHandler(linkService),
		AccountHandler:      httphandlers.NewAccountHandler(accountService),
		TransactionHandler:  httphandlers.NewTransactionHandler(transactionService, accountService),
		NotificationHandler: httphandlers.NewNotificationHandler(notificationService),
		CronHandler:         httphandlers.NewCronHandler(cfg.Auth.CronSecret, sched),
		HealthHandler:       httphandlers.NewHealthHandler(db),

		Scheduler: sched,
		Listener:  listener.NewConnectionListener(cfg.Database.ConnectionString(), enqueueNewConnection(registry, syncService, sched, polled)),
	}, nil
}

// Close releases the database and the institution cache.
func (d *Dependencies) Close() {
	d.Registry.Close()
	if err := d.DB.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

// newMessenger returns the FCM client, or nil when push is not configured.
func newMessenger(ctx context.Context, cfg *config.Config) notification.Messenger {
	if cfg.Firebase.CredentialsFile == "" {
		log.Println("Firebase not configured, push notifications disabled")
		return nil
	}
	client, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Printf("WARNING: Failed to initialize Firebase, push notifications disabled: %v", err)
		return nil
	}
	log.Println("Firebase messaging initialized")
	return client
}

// pollProviders keeps the configured poll-only providers that are actually enabled.
func pollProviders(names []string, dir provider.Directory) []string {
	var enabled []string
	for _, name := range names {
		name = strings.ToLower(name)
		if _, err := dir.Get(name); err != nil {
			log.Printf("Sync provider %s is not enabled, skipping", name)
			continue
		}
		enabled = append(enabled, name)
	}
	return enabled
}

// enqueueNewConnection gives a connection of a poll-only provider its first sync
// as soon as it is stored, instead of at the next scheduled run.
func enqueueNewConnection(registry *connection.Registry, syncer scheduler.Syncer, sched *scheduler.Scheduler, polled []string) listener.Handler {
	return func(ctx context.Context, ev listener.ConnectionAdded) {
		if !slices.Contains(polled, strings.ToLower(ev.Provider)) {
			return
		}
		ic, err := registry.GetInstitutionConnectionByID(ctx, ev.ID)
		if err != nil {
			log.Printf("Connection listener: failed to load connection %d: %v", ev.ID, err)
			return
		}
		if err := sched.Enqueue(scheduler.NewConnectionSyncJob(syncer, ic)); err != nil {
			log.Printf("Connection listener: failed to queue connection %d: %v", ev.ID, err)
		}
	}
}
