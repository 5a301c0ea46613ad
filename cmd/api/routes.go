package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"finlink/internal/shared/config"
	"finlink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logging)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(middleware.Telemetry)
		r.Use(middleware.Tracing)
	}
	r.Use(middleware.CORS(cfg.Server.AllowedHosts))
	r.Use(middleware.NoStore)
	if cfg.TLS.Enabled {
		r.Use(middleware.HSTS)
	}

	r.Get("/health", deps.HealthHandler.HandleHealth)

	// Vendor callbacks authenticate by signature, not session
	r.Post("/callback/providers/{provider}", deps.WebhookHandler.HandleCallback)

	// External cron trigger, authenticated by shared secret
	r.Get("/api/cron/sync", deps.CronHandler.HandleSync)
	r.Post("/api/cron/sync", deps.CronHandler.HandleSync)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.JWT))

		r.Route("/api/connections", func(r chi.Router) {
			r.Post("/connect/{provider}", deps.ConnectionHandler.HandleConnect)
			r.Post("/complete/{provider}", deps.ConnectionHandler.HandleComplete)
			r.Post("/refresh/{provider}", deps.ConnectionHandler.HandleRefresh)
			r.Post("/deregister/{provider}", deps.ConnectionHandler.HandleDeregister)
		})

		r.Post("/api/notifications/devices", deps.NotificationHandler.HandleRegisterDevice)

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", deps.AccountHandler.HandleListAccounts)
			r.Post("/", deps.AccountHandler.HandleCreateAccount)
			r.Get("/{id}", deps.AccountHandler.HandleGetAccount)
			r.Delete("/{id}", deps.AccountHandler.HandleDeleteAccount)
			r.Get("/{id}/transactions", deps.TransactionHandler.HandleListTransactions)
		})

		r.Route("/api/transactions", func(r chi.Router) {
			r.Post("/", deps.TransactionHandler.HandleCreateTransaction)
			r.Patch("/{id}", deps.TransactionHandler.HandleUpdateTransaction)
			r.Delete("/{id}", deps.TransactionHandler.HandleDeleteTransaction)
		})
	})

	return r
}
