package main

import (
	"fmt"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/refresh"
	"finlink/internal/domain/transaction"
	"finlink/internal/infrastructure/adapters"
	"finlink/internal/infrastructure/crypto"
	"finlink/internal/infrastructure/postgres"
	"finlink/internal/shared/config"
)

// env is the subset of the API wiring the admin commands need. Nothing is pushed
// to devices from here.
type env struct {
	cfg         *config.Config
	db          *postgres.DB
	adapters    provider.Directory
	connections *postgres.ConnectionRepository
	registry    *connection.Registry
	sync        *refresh.Service
	link        *link.Service
}

func openDB() (*config.Config, *postgres.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := postgres.New(cfg.Database.ConnectionString(), postgres.PoolConfig{})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newEnv() (*env, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, err
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

	accountRepo := postgres.NewAccountRepository(db)
	connections := postgres.NewConnectionRepository(db, encryptor)
	registry, err := connection.NewRegistry(connections, dir)
	if err != nil {
		db.Close()
		return nil, err
	}
	accounts := account.NewService(accountRepo)
	transactions := transaction.NewService(postgres.NewTransactionRepository(db), accountRepo)
	engine := reconcile.NewEngine(registry, accounts, transactions, dir, nil, cfg.Sync.Lookback)
	syncService := refresh.NewService(registry, accounts, engine, dir)

	return &env{
		cfg:         cfg,
		db:          db,
		adapters:    dir,
		connections: connections,
		registry:    registry,
		sync:        syncService,
		link:        link.NewService(registry, engine, syncService, dir, cfg.Providers.RedirectURL),
	}, nil
}

func (e *env) Close() {
	e.registry.Close()
	e.db.Close()
}
