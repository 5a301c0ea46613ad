package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/transaction"
)

var tracer = otel.Tracer("finlink/reconcile")

// Notifier tells a user that one of their connections needs attention
type Notifier interface {
	NotifyConnectionBroken(ctx context.Context, userID, institutionName, reason string) error
}

type handlerFunc func(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error)

// Engine applies normalized provider events to the connection registry and the ledger.
// Every write is an upsert on a stable key, so replays and reordering converge.
type Engine struct {
	registry     *connection.Registry
	accounts     *account.Service
	transactions *transaction.Service
	adapters     provider.Directory
	notifier     Notifier
	lookback     time.Duration
	handlers     map[provider.EventType]handlerFunc
}

// NewEngine creates a reconciliation engine. notifier may be nil.
func NewEngine(
	registry *connection.Registry,
	accounts *account.Service,
	transactions *transaction.Service,
	adapters provider.Directory,
	notifier Notifier,
	lookback time.Duration,
) *Engine {
	e := &Engine{
		registry:     registry,
		accounts:     accounts,
		transactions: transactions,
		adapters:     adapters,
		notifier:     notifier,
		lookback:     lookback,
	}
	e.handlers = map[provider.EventType]handlerFunc{
		provider.EventUserRegistered:                   e.acknowledge,
		provider.EventConnectionAttempted:              e.acknowledge,
		provider.EventUserDeleted:                      e.userDeleted,
		provider.EventConnectionAdded:                  e.connectionAdded,
		provider.EventConnectionDeleted:                e.connectionDeleted,
		provider.EventConnectionBroken:                 e.connectionBroken,
		provider.EventConnectionFailed:                 e.connectionBroken,
		provider.EventConnectionFixed:                  e.connectionFixed,
		provider.EventConnectionUpdated:                e.connectionUpdated,
		provider.EventNewAccountAvailable:              e.accountEvent(false),
		provider.EventAccountHoldingsUpdated:           e.accountEvent(false),
		provider.EventAccountTransactionsInitialUpdate: e.accountEvent(true),
		provider.EventAccountTransactionsUpdated:       e.accountEvent(true),
		provider.EventTradesPlaced:                     e.accountEvent(true),
		provider.EventAccountRemoved:                   e.accountRemoved,
	}
	return e
}

// Handle dispatches one event to its handler
func (e *Engine) Handle(ctx context.Context, ev provider.Event) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Handle",
		trace.WithAttributes(
			attribute.String("provider", ev.Provider),
			attribute.String("event", string(ev.Type)),
		),
	)
	defer span.End()

	handler, ok := e.handlers[ev.Type]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	adapter, err := e.adapters.Get(ev.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := handler(ctx, adapter, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if res == nil {
		res = &Result{}
	}
	res.Event = ev.Type
	span.SetAttributes(
		attribute.Int("accounts", res.Accounts),
		attribute.Int("transactions.created", res.Created),
		attribute.Int("transactions.updated", res.Updated),
	)
	return res, nil
}

// resolveUser finds the local user an event belongs to
func (e *Engine) resolveUser(ctx context.Context, ev provider.Event) (string, error) {
	if ev.UserID != "" {
		return ev.UserID, nil
	}
	if ev.ExternalUserID != "" {
		pc, err := e.registry.ResolveUser(ctx, ev.Provider, ev.ExternalUserID)
		if errors.Is(err, connection.ErrProviderConnectionNotFound) {
			return "", fmt.Errorf("%w: %s user %s", ErrUserNotFound, ev.Provider, ev.ExternalUserID)
		}
		if err != nil {
			return "", err
		}
		return pc.UserID, nil
	}
	connID := ev.ConnectionID
	if connID == "" && ev.Snapshot != nil {
		connID = ev.Snapshot.ConnectionID
	}
	if connID != "" {
		ic, err := e.registry.LookupConnection(ctx, ev.Provider, connID)
		if errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
			return "", fmt.Errorf("%w: %s connection %s", connection.ErrInstitutionConnectionNotFound, ev.Provider, connID)
		}
		if err != nil {
			return "", err
		}
		return ic.UserID, nil
	}
	return "", fmt.Errorf("%w: %s event carries no user reference", ErrUserNotFound, ev.Provider)
}

// locate resolves the institution connection an event refers to
func (e *Engine) locate(ctx context.Context, ev provider.Event, userID string) (*connection.InstitutionConnection, error) {
	connID := ev.ConnectionID
	if connID == "" && ev.Snapshot != nil {
		connID = ev.Snapshot.ConnectionID
	}
	if connID != "" {
		ic, err := e.registry.FindInstitutionConnection(ctx, ev.Provider, userID, connID)
		if err == nil || !errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
			return ic, err
		}
	}
	if ev.InstitutionRef != "" {
		return e.registry.FindInstitutionConnectionByRef(ctx, ev.Provider, userID, ev.InstitutionRef)
	}
	return nil, connection.ErrInstitutionConnectionNotFound
}

func (e *Engine) acknowledge(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	log.Printf("%s: acknowledged %s (user=%s%s connection=%s)", ev.Provider, ev.Type, ev.UserID, ev.ExternalUserID, ev.ConnectionID)
	return &Result{}, nil
}

func (e *Engine) userDeleted(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}

	err = e.registry.DeleteProviderConnection(ctx, userID, ev.Provider)
	if errors.Is(err, connection.ErrProviderConnectionNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete provider connection: %w", err)
	}
	log.Printf("User %s: %s user deleted, connections removed", userID, ev.Provider)
	return &Result{}, nil
}

func (e *Engine) connectionAdded(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if err != nil {
		return nil, err
	}
	_, res, err := e.LinkConnection(ctx, ev.Provider, userID, provider.Connection{
		ConnectionID:    ev.ConnectionID,
		InstitutionRef:  ev.InstitutionRef,
		InstitutionName: ev.InstitutionName,
	})
	return res, err
}

// LinkConnection records a vendor connection as active for the user and imports
// its accounts. Reconnects land on the existing (provider connection, institution) row.
func (e *Engine) LinkConnection(ctx context.Context, providerName, userID string, conn provider.Connection) (*connection.InstitutionConnection, *Result, error) {
	adapter, err := e.adapters.Get(providerName)
	if err != nil {
		return nil, nil, err
	}
	if conn.ConnectionID == "" {
		return nil, nil, fmt.Errorf("%w: connection id is required", provider.ErrInvalidEvent)
	}

	pc, err := e.registry.GetOrCreateProviderConnection(ctx, userID, providerName)
	if err != nil {
		return nil, nil, err
	}

	if conn.InstitutionRef == "" {
		if describer, ok := adapter.(provider.ConnectionDescriber); ok {
			described, err := describer.DescribeConnection(ctx, provider.Credentials{
				UserID:       userID,
				Secret:       pc.Secret,
				ConnectionID: conn.ConnectionID,
				AccessToken:  conn.Credential,
			})
			if err != nil {
				return nil, nil, err
			}
			conn.InstitutionRef = described.InstitutionRef
			if conn.InstitutionName == "" {
				conn.InstitutionName = described.InstitutionName
			}
		}
	}
	if conn.InstitutionRef == "" {
		return nil, nil, fmt.Errorf("%w: connection %s has no institution", ErrIntegrity, conn.ConnectionID)
	}

	inst, err := e.registry.ResolveInstitution(ctx, providerName, conn.InstitutionRef, conn.InstitutionName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve institution: %w", err)
	}

	ic, err := e.registry.UpsertInstitutionConnection(ctx, connection.UpsertInstitutionConnectionParams{
		ProviderConnectionID: pc.ID,
		InstitutionID:        inst.ID,
		ConnectionID:         conn.ConnectionID,
		Credential:           conn.Credential,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store institution connection: %w", err)
	}
	ic.ProviderName = providerName
	ic.InstitutionName = inst.Name
	ic.InstitutionRef = inst.ExternalID
	if conn.ReplacesConnectionID != "" {
		log.Printf("User %s: %s connection %s replaced by %s", userID, providerName, conn.ReplacesConnectionID, conn.ConnectionID)
	}

	res, err := e.importAccounts(ctx, adapter, pc, ic, true)
	if res != nil {
		res.InstitutionConnectionID = ic.ID
	}
	return ic, res, err
}

func (e *Engine) connectionBroken(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if err == nil {
		var ic *connection.InstitutionConnection
		ic, err = e.locate(ctx, ev, userID)
		if err == nil {
			return e.markBroken(ctx, ic, userID, ev)
		}
	}
	if ev.Type == provider.EventConnectionFailed && errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		log.Printf("%s: connection attempt %s failed before it was linked: %s", ev.Provider, ev.ConnectionID, ev.Reason)
		return &Result{}, nil
	}
	return nil, err
}

func (e *Engine) markBroken(ctx context.Context, ic *connection.InstitutionConnection, userID string, ev provider.Event) (*Result, error) {
	reason := ev.Reason
	if reason == "" {
		reason = string(ev.Type)
	}
	if err := e.registry.SetBroken(ctx, ic.ID, true, reason); err != nil {
		return nil, fmt.Errorf("failed to mark connection broken: %w", err)
	}
	log.Printf("User %s: %s connection %s broken: %s", userID, ev.Provider, ic.ConnectionID, reason)

	if e.notifier != nil && !ic.Broken {
		name := ic.InstitutionName
		if name == "" {
			name = ev.InstitutionName
		}
		if err := e.notifier.NotifyConnectionBroken(ctx, userID, name, reason); err != nil {
			log.Printf("User %s: failed to send broken connection notification: %v", userID, err)
		}
	}
	return &Result{InstitutionConnectionID: ic.ID}, nil
}

func (e *Engine) connectionFixed(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if err != nil {
		return nil, err
	}
	ic, err := e.locate(ctx, ev, userID)
	if err != nil {
		return nil, err
	}
	if err := e.registry.SetBroken(ctx, ic.ID, false, ""); err != nil {
		return nil, fmt.Errorf("failed to clear broken flag: %w", err)
	}
	return &Result{InstitutionConnectionID: ic.ID}, nil
}

func (e *Engine) connectionUpdated(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if err != nil {
		return nil, err
	}
	ic, err := e.locate(ctx, ev, userID)
	if err != nil {
		return nil, err
	}
	if ic.Broken {
		if err := e.registry.SetBroken(ctx, ic.ID, false, ""); err != nil {
			return nil, fmt.Errorf("failed to clear broken flag: %w", err)
		}
	}
	pc, err := e.registry.GetProviderConnection(ctx, userID, ev.Provider)
	if err != nil {
		return nil, err
	}
	res, err := e.importAccounts(ctx, adapter, pc, ic, true)
	if res != nil {
		res.InstitutionConnectionID = ic.ID
	}
	return res, err
}

func (e *Engine) connectionDeleted(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	userID, err := e.resolveUser(ctx, ev)
	if errors.Is(err, connection.ErrInstitutionConnectionNotFound) || errors.Is(err, ErrUserNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	ic, err := e.locate(ctx, ev, userID)
	if errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	err = e.registry.DeleteInstitutionConnection(ctx, ic.ID)
	if err != nil && !errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		return nil, fmt.Errorf("failed to delete institution connection: %w", err)
	}
	log.Printf("User %s: %s connection %s deleted, accounts kept", userID, ev.Provider, ic.ConnectionID)
	return &Result{InstitutionConnectionID: ic.ID}, nil
}

func (e *Engine) accountEvent(withTransactions bool) handlerFunc {
	return func(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
		if ev.AccountID == "" && ev.Snapshot == nil {
			return nil, fmt.Errorf("%w: %s event without account id", provider.ErrInvalidEvent, ev.Type)
		}
		userID, err := e.resolveUser(ctx, ev)
		if err != nil {
			return nil, err
		}
		ic, err := e.locate(ctx, ev, userID)
		if err != nil {
			return nil, err
		}
		pc, err := e.registry.GetProviderConnection(ctx, userID, ev.Provider)
		if err != nil {
			return nil, err
		}

		snapshot := ev.Snapshot
		if snapshot == nil {
			snapshot, err = e.fetchAccount(ctx, adapter, pc, ic, ev.AccountID)
			if err != nil {
				return nil, err
			}
		}
		if ev.Type == provider.EventNewAccountAvailable && !snapshot.SyncCompleted {
			return nil, fmt.Errorf("%w: %s account %s", ErrIncompleteSync, ev.Provider, snapshot.ProviderAccountID)
		}

		res, err := e.reconcileAccount(ctx, adapter, pc, ic, *snapshot, withTransactions)
		if res != nil {
			res.InstitutionConnectionID = ic.ID
		}
		return res, err
	}
}

func (e *Engine) fetchAccount(ctx context.Context, adapter provider.Adapter, pc *connection.ProviderConnection, ic *connection.InstitutionConnection, accountID string) (*provider.Account, error) {
	accounts, err := adapter.Accounts(ctx, ic.Credentials(pc))
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ProviderAccountID == accountID {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s did not report account %s", account.ErrAccountNotFound, adapter.Name(), accountID)
}

func (e *Engine) accountRemoved(ctx context.Context, adapter provider.Adapter, ev provider.Event) (*Result, error) {
	if ev.AccountID == "" {
		return nil, fmt.Errorf("%w: account_removed without account id", provider.ErrInvalidEvent)
	}
	userID, err := e.resolveUser(ctx, ev)
	if errors.Is(err, connection.ErrInstitutionConnectionNotFound) || errors.Is(err, ErrUserNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	ic, err := e.locate(ctx, ev, userID)
	if errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}

	err = e.registry.DeleteAccountConnection(ctx, ev.AccountID, ic.ID)
	if errors.Is(err, connection.ErrAccountConnectionNotFound) {
		return &Result{InstitutionConnectionID: ic.ID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove account: %w", err)
	}
	log.Printf("User %s: %s account %s removed", userID, ev.Provider, ev.AccountID)
	return &Result{InstitutionConnectionID: ic.ID, Accounts: 1}, nil
}

// importAccounts reconciles every vendor account that belongs to the connection.
// Accounts still in their initial sync are skipped; new_account_available completes them later.
func (e *Engine) importAccounts(ctx context.Context, adapter provider.Adapter, pc *connection.ProviderConnection, ic *connection.InstitutionConnection, withTransactions bool) (*Result, error) {
	accounts, err := adapter.Accounts(ctx, ic.Credentials(pc))
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var errs []error
	for _, a := range accounts {
		if a.ConnectionID != "" && a.ConnectionID != ic.ConnectionID {
			continue
		}
		if !a.SyncCompleted {
			res.SkippedAccounts++
			continue
		}
		r, err := e.reconcileAccount(ctx, adapter, pc, ic, a, withTransactions)
		res.add(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", a.ProviderAccountID, err))
		}
	}
	return res, errors.Join(errs...)
}

// ReconcileAccount applies a vendor account snapshot to an institution connection.
// Used by the sync service, which already holds the snapshot.
func (e *Engine) ReconcileAccount(ctx context.Context, ic *connection.InstitutionConnection, snapshot provider.Account, withTransactions bool) (*Result, error) {
	adapter, err := e.adapters.Get(ic.ProviderName)
	if err != nil {
		return nil, err
	}
	pc, err := e.registry.GetProviderConnection(ctx, ic.UserID, ic.ProviderName)
	if err != nil {
		return nil, err
	}
	return e.reconcileAccount(ctx, adapter, pc, ic, snapshot, withTransactions)
}

// syncHoldings mirrors the vendor's positions as stock accounts under acc
func (e *Engine) syncHoldings(ctx context.Context, reporter provider.HoldingsReporter, pc *connection.ProviderConnection, ic *connection.InstitutionConnection, acc *account.Account, providerAccountID string) (int, error) {
	positions, err := reporter.Holdings(ctx, ic.Credentials(pc), providerAccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to list holdings: %w", err)
	}
	params := make([]account.UpsertHoldingParams, 0, len(positions))
	for _, p := range positions {
		params = append(params, account.UpsertHoldingParams{
			Symbol:    p.Symbol,
			Name:      p.Name,
			Value:     p.Value,
			Currency:  p.Currency,
			CostBasis: p.CostBasis,
		})
	}
	n, err := e.accounts.SyncHoldings(ctx, acc, params)
	if err != nil {
		return 0, fmt.Errorf("failed to store holdings: %w", err)
	}
	return n, nil
}

func (e *Engine) reconcileAccount(ctx context.Context, adapter provider.Adapter, pc *connection.ProviderConnection, ic *connection.InstitutionConnection, snapshot provider.Account, withTransactions bool) (*Result, error) {
	if snapshot.ProviderAccountID == "" {
		return nil, ErrMissingProviderAccountReference
	}

	ac, err := e.registry.UpsertAccountConnection(ctx, snapshot.ProviderAccountID, ic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to link account: %w", err)
	}

	acc, _, err := e.accounts.UpsertConnected(ctx, account.UpsertConnectedParams{
		UserID:                  ic.UserID,
		AccountConnectionID:     ac.ID,
		InstitutionConnectionID: ic.ID,
		ProviderAccountID:       snapshot.ProviderAccountID,
		Name:                    snapshot.Name,
		Type:                    snapshot.Type,
		Subtype:                 snapshot.Subtype,
		Value:                   snapshot.Value,
		Currency:                snapshot.Currency,
		CostBasis:               snapshot.CostBasis,
	})
	if err != nil {
		if errors.Is(err, account.ErrTypeMismatch) || errors.Is(err, account.ErrInvalidSubtype) {
			return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		return nil, err
	}

	res := &Result{Accounts: 1}
	if reporter, ok := adapter.(provider.HoldingsReporter); ok && acc.Subtype == account.SubtypeBrokerage {
		n, err := e.syncHoldings(ctx, reporter, pc, ic, acc, snapshot.ProviderAccountID)
		if err != nil {
			return res, err
		}
		res.Holdings = n
	}
	if !withTransactions {
		return res, nil
	}

	since := provider.StartOfDay(time.Now().Add(-e.lookback))
	txs, err := adapter.Transactions(ctx, ic.Credentials(pc), snapshot.ProviderAccountID, since)
	if err != nil {
		return res, err
	}

	moved := false
	var upsertErr error
	for _, tx := range provider.WithoutPending(txs) {
		currency := tx.Currency
		if currency == "" {
			currency = acc.Currency
		}
		r, err := e.transactions.Upsert(ctx, transaction.UpsertParams{
			AccountID:             acc.ID,
			ProviderTransactionID: tx.ProviderTransactionID,
			Date:                  tx.Date,
			Amount:                tx.Amount,
			Currency:              currency,
			Description:           tx.Description,
			Category:              tx.Category,
		})
		if err != nil {
			if errors.Is(err, transaction.ErrInvalidInput) {
				log.Printf("User %s: skipping transaction %q on account %d: %v", ic.UserID, tx.ProviderTransactionID, acc.ID, err)
				res.SkippedTransactions++
				continue
			}
			upsertErr = fmt.Errorf("failed to upsert transaction %s: %w", tx.ProviderTransactionID, err)
			break
		}
		switch {
		case r.Created:
			res.Created++
		case r.Delta.IsZero():
			res.Unchanged++
		default:
			res.Updated++
		}
		if !r.Delta.IsZero() {
			moved = true
		}
	}

	// the vendor balance already includes these transactions
	if moved {
		if err := e.accounts.SetValue(ctx, acc.ID, snapshot.Value); err != nil {
			return res, errors.Join(upsertErr, fmt.Errorf("failed to restore reported balance: %w", err))
		}
	}
	return res, upsertErr
}
