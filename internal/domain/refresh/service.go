package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
)

// SyncResult contains the results of a sync operation
type SyncResult struct {
	Provider    string   `json:"provider"`
	Connections int      `json:"connections"`
	Accounts    int      `json:"accounts"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Skipped     int      `json:"skipped"`
	Errors      []string `json:"errors"`
}

func (r *SyncResult) add(o *SyncResult) {
	if o == nil {
		return
	}
	r.Connections += o.Connections
	r.Accounts += o.Accounts
	r.Created += o.Created
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// Service pulls accounts and transactions for providers that do not push webhooks.
// Each vendor account becomes a synthesized account_transactions_updated event, so
// polling and webhooks share one reconciliation path.
type Service struct {
	registry *connection.Registry
	accounts *account.Service
	engine   *reconcile.Engine
	adapters provider.Directory
}

// NewService creates a new sync service
func NewService(registry *connection.Registry, accounts *account.Service, engine *reconcile.Engine, adapters provider.Directory) *Service {
	return &Service{
		registry: registry,
		accounts: accounts,
		engine:   engine,
		adapters: adapters,
	}
}

// Connections lists the institution connections held through a provider
func (s *Service) Connections(ctx context.Context, providerName string) ([]*connection.InstitutionConnection, error) {
	return s.registry.ListInstitutionConnections(ctx, providerName)
}

// SyncProvider syncs every institution connection of a provider. A failing
// connection is recorded in the result and does not stop the others.
func (s *Service) SyncProvider(ctx context.Context, providerName string) (*SyncResult, error) {
	ics, err := s.Connections(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s connections: %w", providerName, err)
	}

	result := &SyncResult{Provider: providerName, Errors: []string{}}
	for _, ic := range ics {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r, err := s.SyncConnection(ctx, ic)
		result.add(r)
		if err != nil {
			msg := fmt.Sprintf("connection %d: %v", ic.ID, err)
			result.Errors = append(result.Errors, msg)
			log.Printf("User %s: %s sync failed: %s", ic.UserID, providerName, msg)
		}
	}

	log.Printf("%s sync finished: connections=%d accounts=%d created=%d updated=%d skipped=%d errors=%d",
		providerName, result.Connections, result.Accounts, result.Created, result.Updated, result.Skipped, len(result.Errors))
	return result, nil
}

// SyncConnection pulls one institution connection. Every ledger account already
// linked to it must carry a provider account reference.
func (s *Service) SyncConnection(ctx context.Context, ic *connection.InstitutionConnection) (*SyncResult, error) {
	result := &SyncResult{Provider: ic.ProviderName, Connections: 1, Errors: []string{}}

	if ic.Broken {
		log.Printf("User %s: skipping broken %s connection %s", ic.UserID, ic.ProviderName, ic.ConnectionID)
		result.Skipped++
		return result, nil
	}

	linked, err := s.accounts.ListLinkedAccounts(ctx, ic.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	for _, acc := range linked {
		if acc.ProviderAccountID == "" {
			return result, fmt.Errorf("account %d: %w", acc.ID, reconcile.ErrMissingProviderAccountReference)
		}
	}

	adapter, err := s.adapters.Get(ic.ProviderName)
	if err != nil {
		return result, err
	}
	pc, err := s.registry.GetProviderConnection(ctx, ic.UserID, ic.ProviderName)
	if err != nil {
		return result, err
	}

	vendorAccounts, err := adapter.Accounts(ctx, ic.Credentials(pc))
	if err != nil {
		var pe *provider.ProviderError
		if errors.As(err, &pe) && pe.IsUnauthorized() {
			s.markBroken(ctx, ic, pe)
		}
		return result, err
	}

	var errs []error
	for _, a := range vendorAccounts {
		if a.ConnectionID != "" && a.ConnectionID != ic.ConnectionID {
			continue
		}
		if !a.SyncCompleted {
			result.Skipped++
			continue
		}
		snapshot := a
		r, err := s.engine.Handle(ctx, provider.Event{
			Provider:     ic.ProviderName,
			Type:         provider.EventAccountTransactionsUpdated,
			UserID:       ic.UserID,
			ConnectionID: ic.ConnectionID,
			AccountID:    a.ProviderAccountID,
			Snapshot:     &snapshot,
		})
		if r != nil {
			result.Accounts += r.Accounts
			result.Created += r.Created
			result.Updated += r.Updated
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", a.ProviderAccountID, err))
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

// SyncConnectionByID loads a connection and syncs it
func (s *Service) SyncConnectionByID(ctx context.Context, id int64) (*SyncResult, error) {
	ic, err := s.registry.GetInstitutionConnectionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncConnection(ctx, ic)
}

func (s *Service) markBroken(ctx context.Context, ic *connection.InstitutionConnection, cause error) {
	_, err := s.engine.Handle(ctx, provider.Event{
		Provider:     ic.ProviderName,
		Type:         provider.EventConnectionBroken,
		UserID:       ic.UserID,
		ConnectionID: ic.ConnectionID,
		Reason:       cause.Error(),
	})
	if err != nil {
		log.Printf("User %s: failed to mark %s connection %s broken: %v", ic.UserID, ic.ProviderName, ic.ConnectionID, err)
	}
}
