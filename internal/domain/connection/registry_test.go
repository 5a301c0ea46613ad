package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finlink/internal/domain/provider"
)

// memRepository keeps rows in maps and enforces the same unique keys as the schema
type memRepository struct {
	mu        sync.Mutex
	providers map[string]*Provider
	pcs       map[int64]*ProviderConnection
	insts     map[int64]*Institution
	ics       map[int64]*InstitutionConnection
	acs       map[int64]*AccountConnection
	nextID    int64
}

func newMemRepository(names ...string) *memRepository {
	m := &memRepository{
		providers: make(map[string]*Provider),
		pcs:       make(map[int64]*ProviderConnection),
		insts:     make(map[int64]*Institution),
		ics:       make(map[int64]*InstitutionConnection),
		acs:       make(map[int64]*AccountConnection),
	}
	for _, n := range names {
		m.nextID++
		m.providers[n] = &Provider{ID: m.nextID, Name: n}
	}
	return m
}

func (m *memRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepository) GetProviderByName(ctx context.Context, name string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func (m *memRepository) GetProviderConnection(ctx context.Context, providerID int64, userID string) (*ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.pcs {
		if pc.ProviderID == providerID && pc.UserID == userID {
			c := *pc
			return &c, nil
		}
	}
	return nil, ErrProviderConnectionNotFound
}

func (m *memRepository) GetProviderConnectionByExternalUser(ctx context.Context, providerID int64, externalUserID string) (*ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.pcs {
		if pc.ProviderID == providerID && pc.ExternalUserID == externalUserID {
			c := *pc
			return &c, nil
		}
	}
	return nil, ErrProviderConnectionNotFound
}

func (m *memRepository) UpsertProviderConnection(ctx context.Context, params UpsertProviderConnectionParams) (*ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.pcs {
		if pc.ProviderID == params.ProviderID && pc.UserID == params.UserID {
			pc.ExternalUserID = params.ExternalUserID
			pc.Secret = params.Secret
			c := *pc
			return &c, nil
		}
	}
	pc := &ProviderConnection{ID: m.id(), ProviderID: params.ProviderID, UserID: params.UserID,
		ExternalUserID: params.ExternalUserID, Secret: params.Secret}
	m.pcs[pc.ID] = pc
	c := *pc
	return &c, nil
}

func (m *memRepository) DeleteProviderConnection(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pcs[id]; !ok {
		return ErrProviderConnectionNotFound
	}
	delete(m.pcs, id)
	for icID, ic := range m.ics {
		if ic.ProviderConnectionID == id {
			delete(m.ics, icID)
		}
	}
	return nil
}

func (m *memRepository) GetInstitution(ctx context.Context, providerID int64, externalID string) (*Institution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.insts {
		if inst.ProviderID == providerID && inst.ExternalID == externalID {
			return inst, nil
		}
	}
	return nil, ErrInstitutionNotFound
}

func (m *memRepository) UpsertInstitution(ctx context.Context, params UpsertInstitutionParams) (*Institution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := &Institution{ID: m.id(), ProviderID: params.ProviderID, ExternalID: params.ExternalID, Name: params.Name}
	m.insts[inst.ID] = inst
	return inst, nil
}

func (m *memRepository) GetInstitutionConnection(ctx context.Context, userID string, institutionID int64) (*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ic := range m.ics {
		if ic.UserID == userID && ic.InstitutionID == institutionID {
			c := *ic
			return &c, nil
		}
	}
	return nil, ErrInstitutionConnectionNotFound
}

func (m *memRepository) GetInstitutionConnectionByID(ctx context.Context, id int64) (*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ic, ok := m.ics[id]
	if !ok {
		return nil, ErrInstitutionConnectionNotFound
	}
	c := *ic
	return &c, nil
}

func (m *memRepository) FindInstitutionConnection(ctx context.Context, providerConnectionID int64, connectionID string) (*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ic := range m.ics {
		if ic.ProviderConnectionID == providerConnectionID && ic.ConnectionID == connectionID {
			c := *ic
			return &c, nil
		}
	}
	return nil, ErrInstitutionConnectionNotFound
}

func (m *memRepository) FindInstitutionConnectionByVendorID(ctx context.Context, providerID int64, connectionID string) (*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ic := range m.ics {
		if pc, ok := m.pcs[ic.ProviderConnectionID]; ok && pc.ProviderID == providerID && ic.ConnectionID == connectionID {
			c := *ic
			return &c, nil
		}
	}
	return nil, ErrInstitutionConnectionNotFound
}

func (m *memRepository) ListInstitutionConnections(ctx context.Context, providerConnectionID int64) ([]*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*InstitutionConnection
	for _, ic := range m.ics {
		if ic.ProviderConnectionID == providerConnectionID {
			c := *ic
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memRepository) ListInstitutionConnectionsByProvider(ctx context.Context, providerID int64) ([]*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*InstitutionConnection
	for _, ic := range m.ics {
		if pc, ok := m.pcs[ic.ProviderConnectionID]; ok && pc.ProviderID == providerID {
			c := *ic
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memRepository) UpsertInstitutionConnection(ctx context.Context, params UpsertInstitutionConnectionParams) (*InstitutionConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ic := range m.ics {
		if ic.ProviderConnectionID == params.ProviderConnectionID && ic.InstitutionID == params.InstitutionID {
			ic.ConnectionID = params.ConnectionID
			ic.Credential = params.Credential
			ic.Broken = false
			ic.BrokenReason = ""
			c := *ic
			return &c, nil
		}
	}
	pc := m.pcs[params.ProviderConnectionID]
	ic := &InstitutionConnection{
		ID:                   m.id(),
		ProviderConnectionID: params.ProviderConnectionID,
		InstitutionID:        params.InstitutionID,
		UserID:               pc.UserID,
		ConnectionID:         params.ConnectionID,
		Credential:           params.Credential,
	}
	m.ics[ic.ID] = ic
	c := *ic
	return &c, nil
}

func (m *memRepository) SetBroken(ctx context.Context, id int64, broken bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ic, ok := m.ics[id]
	if !ok {
		return ErrInstitutionConnectionNotFound
	}
	ic.Broken = broken
	ic.BrokenReason = reason
	return nil
}

func (m *memRepository) DeleteInstitutionConnection(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ics[id]; !ok {
		return ErrInstitutionConnectionNotFound
	}
	delete(m.ics, id)
	return nil
}

func (m *memRepository) GetAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ac := range m.acs {
		if ac.AccountID == accountID && ac.InstitutionConnectionID == institutionConnectionID {
			return ac, nil
		}
	}
	return nil, ErrAccountConnectionNotFound
}

func (m *memRepository) UpsertAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ac := range m.acs {
		if ac.AccountID == accountID && ac.InstitutionConnectionID == institutionConnectionID {
			return ac, nil
		}
	}
	ac := &AccountConnection{ID: m.id(), AccountID: accountID, InstitutionConnectionID: institutionConnectionID}
	m.acs[ac.ID] = ac
	return ac, nil
}

func (m *memRepository) DeleteAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ac := range m.acs {
		if ac.AccountID == accountID && ac.InstitutionConnectionID == institutionConnectionID {
			delete(m.acs, id)
			return nil
		}
	}
	return ErrAccountConnectionNotFound
}

// MockAdapter is a provider adapter that can also register users
type MockAdapter struct {
	name             string
	mu               sync.Mutex
	registrations    int
	deregistrations  int
	RegisterUserFunc func(ctx context.Context, userID string) (*provider.Registration, error)
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	return "", nil
}

func (m *MockAdapter) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	return nil, nil
}

func (m *MockAdapter) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	return nil, nil
}

func (m *MockAdapter) RegisterUser(ctx context.Context, userID string) (*provider.Registration, error) {
	m.mu.Lock()
	m.registrations++
	m.mu.Unlock()
	if m.RegisterUserFunc != nil {
		return m.RegisterUserFunc(ctx, userID)
	}
	return &provider.Registration{ExternalUserID: "ext-" + userID, Secret: "secret-" + userID}, nil
}

func (m *MockAdapter) DeregisterUser(ctx context.Context, userID, secret string) error {
	m.mu.Lock()
	m.deregistrations++
	m.mu.Unlock()
	return nil
}

func newTestRegistry(t *testing.T, adapter *MockAdapter) (*Registry, *memRepository) {
	t.Helper()
	repo := newMemRepository(adapter.name)
	r, err := NewRegistry(repo, provider.NewDirectory(adapter))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(r.Close)
	return r, repo
}

func TestRegistry_GetOrCreateProviderConnection_RegistersOnce(t *testing.T) {
	adapter := &MockAdapter{name: "snaptrade"}
	r, repo := newTestRegistry(t, adapter)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetOrCreateProviderConnection(context.Background(), "user-1", "snaptrade"); err != nil {
				t.Errorf("GetOrCreateProviderConnection() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if adapter.registrations != 1 {
		t.Errorf("registrations = %d, want 1", adapter.registrations)
	}
	if len(repo.pcs) != 1 {
		t.Errorf("provider connections = %d, want 1", len(repo.pcs))
	}

	pc, err := r.GetOrCreateProviderConnection(context.Background(), "user-1", "SnapTrade")
	if err != nil {
		t.Fatalf("GetOrCreateProviderConnection() error = %v", err)
	}
	if pc.Secret != "secret-user-1" || pc.ExternalUserID != "ext-user-1" {
		t.Errorf("stored registration = %+v", pc)
	}
}

func TestRegistry_GetOrCreateProviderConnection_RegistrationFailure(t *testing.T) {
	vendorErr := &provider.ProviderError{Provider: "snaptrade", StatusCode: 500, Err: errors.New("down")}
	adapter := &MockAdapter{
		name: "snaptrade",
		RegisterUserFunc: func(ctx context.Context, userID string) (*provider.Registration, error) {
			return nil, vendorErr
		},
	}
	r, repo := newTestRegistry(t, adapter)

	_, err := r.GetOrCreateProviderConnection(context.Background(), "user-1", "snaptrade")
	if !errors.Is(err, provider.ErrRegistrationFailed) {
		t.Fatalf("error = %v, want ErrRegistrationFailed", err)
	}
	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		t.Error("registration error lost the vendor error")
	}
	if len(repo.pcs) != 0 {
		t.Error("a failed registration must not store a provider connection")
	}
}

func TestRegistry_GetOrCreateProviderConnection_UnknownProvider(t *testing.T) {
	r, _ := newTestRegistry(t, &MockAdapter{name: "snaptrade"})

	if _, err := r.GetOrCreateProviderConnection(context.Background(), "user-1", "plaid"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("error = %v, want ErrProviderNotFound", err)
	}
}

func TestRegistry_UpsertInstitutionConnection_ReconnectKeepsRow(t *testing.T) {
	r, repo := newTestRegistry(t, &MockAdapter{name: "saltedge"})
	ctx := context.Background()

	pc, err := r.GetOrCreateProviderConnection(ctx, "user-1", "saltedge")
	if err != nil {
		t.Fatalf("GetOrCreateProviderConnection() error = %v", err)
	}
	inst, err := r.ResolveInstitution(ctx, "saltedge", "fake_bank", "Fake Bank")
	if err != nil {
		t.Fatalf("ResolveInstitution() error = %v", err)
	}

	first, err := r.UpsertInstitutionConnection(ctx, UpsertInstitutionConnectionParams{
		ProviderConnectionID: pc.ID, InstitutionID: inst.ID, ConnectionID: "conn-1",
	})
	if err != nil {
		t.Fatalf("UpsertInstitutionConnection() error = %v", err)
	}
	if err := r.SetBroken(ctx, first.ID, true, "credentials expired"); err != nil {
		t.Fatalf("SetBroken() error = %v", err)
	}

	second, err := r.UpsertInstitutionConnection(ctx, UpsertInstitutionConnectionParams{
		ProviderConnectionID: pc.ID, InstitutionID: inst.ID, ConnectionID: "conn-2",
	})
	if err != nil {
		t.Fatalf("UpsertInstitutionConnection() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("reconnect created row %d, want %d", second.ID, first.ID)
	}
	if second.Broken {
		t.Error("reconnect left the connection broken")
	}
	if len(repo.ics) != 1 {
		t.Errorf("institution connections = %d, want 1", len(repo.ics))
	}

	found, err := r.FindInstitutionConnection(ctx, "saltedge", "user-1", "conn-2")
	if err != nil || found.ID != first.ID {
		t.Errorf("FindInstitutionConnection() = %v, %v", found, err)
	}
	if _, err := r.FindInstitutionConnection(ctx, "saltedge", "user-2", "conn-2"); !errors.Is(err, ErrInstitutionConnectionNotFound) {
		t.Errorf("FindInstitutionConnection() for another user error = %v", err)
	}
	if byID, err := r.LookupConnection(ctx, "saltedge", "conn-2"); err != nil || byID.UserID != "user-1" {
		t.Errorf("LookupConnection() = %v, %v", byID, err)
	}
}

func TestRegistry_ResolveInstitution_CreatesOnce(t *testing.T) {
	r, repo := newTestRegistry(t, &MockAdapter{name: "teller"})
	ctx := context.Background()

	a, err := r.ResolveInstitution(ctx, "teller", "chase", "")
	if err != nil {
		t.Fatalf("ResolveInstitution() error = %v", err)
	}
	if a.Name != "chase" {
		t.Errorf("Name = %q, want reference as fallback name", a.Name)
	}
	b, err := r.ResolveInstitution(ctx, "teller", "chase", "Chase")
	if err != nil {
		t.Fatalf("ResolveInstitution() error = %v", err)
	}
	if a.ID != b.ID || len(repo.insts) != 1 {
		t.Errorf("ResolveInstitution() created %d institutions", len(repo.insts))
	}
	if _, err := r.ResolveInstitution(ctx, "teller", "", ""); !errors.Is(err, ErrInstitutionNotFound) {
		t.Errorf("empty reference error = %v", err)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	adapter := &MockAdapter{name: "saltedge"}
	r, repo := newTestRegistry(t, adapter)
	ctx := context.Background()

	if err := r.Deregister(ctx, "user-1", "saltedge"); err != nil {
		t.Fatalf("Deregister() without registration error = %v", err)
	}
	if adapter.deregistrations != 0 {
		t.Error("adapter called for a user that was never registered")
	}

	if _, err := r.GetOrCreateProviderConnection(ctx, "user-1", "saltedge"); err != nil {
		t.Fatalf("GetOrCreateProviderConnection() error = %v", err)
	}
	if err := r.Deregister(ctx, "user-1", "saltedge"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if adapter.deregistrations != 1 {
		t.Errorf("deregistrations = %d, want 1", adapter.deregistrations)
	}
	if len(repo.pcs) != 0 {
		t.Error("provider connection not deleted")
	}
}

func TestRegistry_ResolveUser(t *testing.T) {
	r, _ := newTestRegistry(t, &MockAdapter{name: "saltedge"})
	ctx := context.Background()

	if _, err := r.GetOrCreateProviderConnection(ctx, "user-9", "saltedge"); err != nil {
		t.Fatalf("GetOrCreateProviderConnection() error = %v", err)
	}
	pc, err := r.ResolveUser(ctx, "saltedge", "ext-user-9")
	if err != nil {
		t.Fatalf("ResolveUser() error = %v", err)
	}
	if pc.UserID != "user-9" {
		t.Errorf("UserID = %q, want user-9", pc.UserID)
	}
}
