package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/memstoretest"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/refresh"
	"finlink/internal/domain/transaction"
)

type fixture struct {
	service  *Service
	engine   *reconcile.Engine
	registry *connection.Registry
	store    *memstoretest.Store
	saltedge *memstoretest.RefreshingAdapter
	teller   *memstoretest.CompletingAdapter
	vezgo    *memstoretest.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstoretest.New("saltedge", "teller", "vezgo")
	f := &fixture{
		store:    store,
		saltedge: &memstoretest.RefreshingAdapter{Adapter: memstoretest.NewAdapter("saltedge")},
		teller:   &memstoretest.CompletingAdapter{Adapter: memstoretest.NewAdapter("teller")},
		vezgo:    memstoretest.NewAdapter("vezgo"),
	}
	dir := provider.NewDirectory(f.saltedge, f.teller, f.vezgo)

	registry, err := connection.NewRegistry(store.Connections(), dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(registry.Close)

	accounts := account.NewService(store.Accounts())
	transactions := transaction.NewService(store.Transactions(), store.Accounts())
	f.engine = reconcile.NewEngine(registry, accounts, transactions, dir, nil, 30*24*time.Hour)
	f.registry = registry
	f.service = NewService(registry, f.engine, refresh.NewService(registry, accounts, f.engine, dir), dir, "https://app.example/callback/")
	return f
}

func (f *fixture) link(t *testing.T, providerName, userID, connectionID, institution string) *connection.InstitutionConnection {
	t.Helper()
	ic, _, err := f.engine.LinkConnection(context.Background(), providerName, userID, provider.Connection{
		ConnectionID:   connectionID,
		InstitutionRef: institution,
	})
	if err != nil {
		t.Fatalf("LinkConnection() error = %v", err)
	}
	return ic
}

func TestService_Connect_NewConnection(t *testing.T) {
	f := newFixture(t)

	url, err := f.service.Connect(context.Background(), ConnectParams{UserID: "user-1", Provider: "saltedge", InstitutionID: "fake_bank"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if url != "https://connect.example/fake_bank" {
		t.Errorf("url = %q", url)
	}

	req := f.saltedge.ConnectRequests[0]
	if req.ReconnectOf != "" {
		t.Errorf("ReconnectOf = %q, want empty for a new connection", req.ReconnectOf)
	}
	if req.RedirectURL != "https://app.example/callback/saltedge" {
		t.Errorf("RedirectURL = %q", req.RedirectURL)
	}
	if f.store.ProviderConnectionCount() != 1 {
		t.Error("connect did not register the user with the provider")
	}
}

func TestService_Connect_ReconnectTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broken := f.link(t, "saltedge", "user-1", "c-1", "fake_bank")
	if err := f.registry.SetBroken(ctx, broken.ID, true, "expired"); err != nil {
		t.Fatalf("SetBroken() error = %v", err)
	}
	f.link(t, "saltedge", "user-1", "c-2", "other_bank")

	tests := []struct {
		name    string
		params  ConnectParams
		want    string
		wantErr error
	}{
		{"explicit reconnect", ConnectParams{InstitutionID: "other_bank", Reconnect: "c-2"}, "c-2", nil},
		{"account id", ConnectParams{InstitutionID: "other_bank", AccountID: "c-2"}, "c-2", nil},
		{"broken connection to same institution", ConnectParams{InstitutionID: "fake_bank"}, "c-1", nil},
		{"healthy connection is not reconnected", ConnectParams{InstitutionID: "other_bank"}, "", nil},
		{"unknown reconnect target", ConnectParams{InstitutionID: "fake_bank", Reconnect: "c-404"}, "", connection.ErrInstitutionConnectionNotFound},
		{"missing institution", ConnectParams{}, "", ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.saltedge.ConnectRequests = nil
			tt.params.UserID = "user-1"
			tt.params.Provider = "saltedge"

			_, err := f.service.Connect(ctx, tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if got := f.saltedge.ConnectRequests[0].ReconnectOf; got != tt.want {
				t.Errorf("ReconnectOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestService_Connect_ReconnectOfAnotherUsersConnection(t *testing.T) {
	f := newFixture(t)
	f.link(t, "saltedge", "owner", "c-1", "fake_bank")

	_, err := f.service.Connect(context.Background(), ConnectParams{UserID: "intruder", Provider: "saltedge", InstitutionID: "fake_bank", Reconnect: "c-1"})
	if !errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		t.Fatalf("Connect() error = %v, want ErrInstitutionConnectionNotFound", err)
	}
}

func TestService_Reconnect_PreservesConnectionRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.link(t, "saltedge", "user-1", "c-1", "fake_bank")
	if err := f.registry.SetBroken(ctx, original.ID, true, "expired"); err != nil {
		t.Fatalf("SetBroken() error = %v", err)
	}

	if _, err := f.service.Connect(ctx, ConnectParams{UserID: "user-1", Provider: "saltedge", InstitutionID: "fake_bank", Reconnect: "c-1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// the vendor reports the repaired connection back
	if _, err := f.engine.Handle(ctx, provider.Event{
		Provider: "saltedge", Type: provider.EventConnectionAdded, ExternalUserID: "user-1", ConnectionID: "c-1", InstitutionRef: "fake_bank",
	}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if f.store.InstitutionConnectionCount() != 1 {
		t.Fatalf("institution connections = %d, want 1", f.store.InstitutionConnectionCount())
	}
	ic, err := f.registry.FindInstitutionConnection(ctx, "saltedge", "user-1", "c-1")
	if err != nil {
		t.Fatalf("FindInstitutionConnection() error = %v", err)
	}
	if ic.ID != original.ID || ic.Broken {
		t.Errorf("after reconnect: %+v", ic)
	}
}

func TestService_Complete(t *testing.T) {
	f := newFixture(t)
	f.teller.Connection = provider.Connection{ConnectionID: "enr_1", InstitutionRef: "chase", InstitutionName: "Chase", Credential: "token_abc"}
	f.teller.SetAccounts("enr_1", provider.Account{
		ProviderAccountID: "acc_1", Name: "Checking", Subtype: account.SubtypeDepository,
		Value: decimal.NewFromInt(42), Currency: "USD", SyncCompleted: true,
	})

	ic, res, err := f.service.Complete(context.Background(), "user-1", "teller", map[string]string{"accessToken": "token_abc"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ic.ConnectionID != "enr_1" || ic.Credential != "token_abc" {
		t.Errorf("connection = %+v", ic)
	}
	if res.Accounts != 1 {
		t.Errorf("Accounts = %d, want 1", res.Accounts)
	}
	if got := f.teller.Requests[0].Params["accessToken"]; got != "token_abc" {
		t.Errorf("completion params not forwarded: %q", got)
	}

	if _, _, err := f.service.Complete(context.Background(), "user-1", "vezgo", nil); !errors.Is(err, provider.ErrUnsupported) {
		t.Errorf("Complete() on vezgo error = %v, want ErrUnsupported", err)
	}
}

func TestService_Refresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.link(t, "saltedge", "user-1", "c-1", "fake_bank")
	vz := f.link(t, "vezgo", "user-1", "vz-1", "coinbase")

	if err := f.service.Refresh(ctx, "user-1", "saltedge", se.ID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(f.saltedge.Refreshed) != 1 || f.saltedge.Refreshed[0] != "c-1" {
		t.Errorf("vendor refresh calls = %v", f.saltedge.Refreshed)
	}

	f.vezgo.SetAccounts("vz-1", provider.Account{
		ProviderAccountID: "vz-1", ConnectionID: "vz-1", Name: "BTC", Subtype: account.SubtypeCrypto,
		Value: decimal.NewFromInt(3), Currency: "USD", SyncCompleted: true,
	})
	if err := f.service.Refresh(ctx, "user-1", "vezgo", vz.ID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if f.store.AccountByProviderID("vz-1") == nil {
		t.Error("refresh without vendor support did not sync")
	}

	tests := []struct {
		name     string
		userID   string
		provider string
		id       int64
	}{
		{"other user", "user-2", "saltedge", se.ID},
		{"wrong provider", "user-1", "vezgo", se.ID},
		{"missing", "user-1", "saltedge", 9999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.Refresh(ctx, tt.userID, tt.provider, tt.id)
			if !errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
				t.Errorf("Refresh() error = %v, want ErrInstitutionConnectionNotFound", err)
			}
		})
	}
}

func TestService_Deregister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.link(t, "saltedge", "user-1", "c-1", "fake_bank")

	if err := f.service.Deregister(ctx, "user-1", "saltedge"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if f.store.ProviderConnectionCount() != 0 || f.store.InstitutionConnectionCount() != 0 {
		t.Error("deregister left connections behind")
	}
	if err := f.service.Deregister(ctx, "user-1", "saltedge"); err != nil {
		t.Errorf("second Deregister() error = %v", err)
	}
	if err := f.service.Deregister(ctx, "user-1", "plaid"); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("Deregister(plaid) error = %v, want ErrUnknownProvider", err)
	}
}
