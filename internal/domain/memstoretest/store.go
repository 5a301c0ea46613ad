// Package memstoretest provides in-memory repositories with the same unique keys
// and cascade rules as the postgres schema, plus a scriptable provider adapter.
// It backs package tests only; nothing outside _test.go files imports it.
package memstoretest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/transaction"
)

// Store holds every table. Accounts are detached, not deleted, when their
// connection goes away; deleting an account connection cascades to the account.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	providers map[string]*connection.Provider
	pcs       map[int64]*connection.ProviderConnection
	insts     map[int64]*connection.Institution
	ics       map[int64]*connection.InstitutionConnection
	acs       map[int64]*connection.AccountConnection
	accounts  map[int64]*account.Account
	txs       map[int64]*transaction.Transaction

	upsertErrs map[string]error
}

// New creates a store seeded with the named providers
func New(providers ...string) *Store {
	s := &Store{
		providers: make(map[string]*connection.Provider),
		pcs:       make(map[int64]*connection.ProviderConnection),
		insts:     make(map[int64]*connection.Institution),
		ics:       make(map[int64]*connection.InstitutionConnection),
		acs:       make(map[int64]*connection.AccountConnection),
		accounts:  make(map[int64]*account.Account),
		txs:       make(map[int64]*transaction.Transaction),

		upsertErrs: make(map[string]error),
	}
	for _, name := range providers {
		s.nextID++
		s.providers[name] = &connection.Provider{ID: s.nextID, Name: name}
	}
	return s
}

// Connections returns the connection.Repository view of the store
func (s *Store) Connections() ConnectionRepo { return ConnectionRepo{s} }

// Accounts returns the account.Repository view of the store
func (s *Store) Accounts() AccountRepo { return AccountRepo{s} }

// Transactions returns the transaction.Repository view of the store
func (s *Store) Transactions() TransactionRepo { return TransactionRepo{s} }

// FailUpsert makes every Upsert of the given provider transaction id return err
func (s *Store) FailUpsert(providerTransactionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErrs[providerTransactionID] = err
}

// InstitutionConnectionCount returns the number of institution connection rows
func (s *Store) InstitutionConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ics)
}

// ProviderConnectionCount returns the number of provider connection rows
func (s *Store) ProviderConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pcs)
}

// Account returns a copy of an account row
func (s *Store) Account(id int64) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	c := *acc
	return &c
}

// ClearProviderAccountID simulates an account imported without a provider account reference
func (s *Store) ClearProviderAccountID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.ProviderAccountID = ""
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) providerByID(id int64) *connection.Provider {
	for _, p := range s.providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// icView fills the joined columns the postgres repository selects
func (s *Store) icView(ic *connection.InstitutionConnection) *connection.InstitutionConnection {
	c := *ic
	if pc, ok := s.pcs[ic.ProviderConnectionID]; ok {
		c.UserID = pc.UserID
		if p := s.providerByID(pc.ProviderID); p != nil {
			c.ProviderName = p.Name
		}
	}
	if inst, ok := s.insts[ic.InstitutionID]; ok {
		c.InstitutionRef = inst.ExternalID
		c.InstitutionName = inst.Name
	}
	return &c
}

func (s *Store) detachAndDeleteIC(id int64) {
	for _, acc := range s.accounts {
		if acc.InstitutionConnectionID != nil && *acc.InstitutionConnectionID == id {
			acc.InstitutionConnectionID = nil
			acc.AccountConnectionID = nil
		}
	}
	for acID, ac := range s.acs {
		if ac.InstitutionConnectionID == id {
			delete(s.acs, acID)
		}
	}
	delete(s.ics, id)
}

// deleteAccount removes an account with its transactions and provider-fed
// holdings; manually nested children lose their parent.
func (s *Store) deleteAccount(id int64) {
	for txID, tx := range s.txs {
		if tx.AccountID == id {
			delete(s.txs, txID)
		}
	}
	for childID, child := range s.accounts {
		if child.ParentID == nil || *child.ParentID != id {
			continue
		}
		if child.ProviderAccountID != "" && child.AccountConnectionID == nil {
			s.deleteAccount(childID)
			continue
		}
		child.ParentID = nil
	}
	delete(s.accounts, id)
}

// AccountCount returns the number of account rows
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// AccountByProviderID returns a copy of the account with the vendor id, or nil
func (s *Store) AccountByProviderID(providerAccountID string) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.ProviderAccountID == providerAccountID {
			c := *acc
			return &c
		}
	}
	return nil
}

// TransactionCount returns the number of transactions on an account
func (s *Store) TransactionCount(accountID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tx := range s.txs {
		if tx.AccountID == accountID {
			n++
		}
	}
	return n
}

// ConnectionRepo implements connection.Repository
type ConnectionRepo struct{ *Store }

func (s ConnectionRepo) GetProviderByName(ctx context.Context, name string) (*connection.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[name]
	if !ok {
		return nil, connection.ErrProviderNotFound
	}
	return p, nil
}

func (s ConnectionRepo) GetProviderConnection(ctx context.Context, providerID int64, userID string) (*connection.ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.pcs {
		if pc.ProviderID == providerID && pc.UserID == userID {
			c := *pc
			return &c, nil
		}
	}
	return nil, connection.ErrProviderConnectionNotFound
}

func (s ConnectionRepo) GetProviderConnectionByExternalUser(ctx context.Context, providerID int64, externalUserID string) (*connection.ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.pcs {
		if pc.ProviderID == providerID && pc.ExternalUserID == externalUserID {
			c := *pc
			return &c, nil
		}
	}
	return nil, connection.ErrProviderConnectionNotFound
}

func (s ConnectionRepo) UpsertProviderConnection(ctx context.Context, params connection.UpsertProviderConnectionParams) (*connection.ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.pcs {
		if pc.ProviderID == params.ProviderID && pc.UserID == params.UserID {
			pc.ExternalUserID = params.ExternalUserID
			pc.Secret = params.Secret
			c := *pc
			return &c, nil
		}
	}
	pc := &connection.ProviderConnection{
		ID:             s.id(),
		ProviderID:     params.ProviderID,
		UserID:         params.UserID,
		ExternalUserID: params.ExternalUserID,
		Secret:         params.Secret,
	}
	s.pcs[pc.ID] = pc
	c := *pc
	return &c, nil
}

func (s ConnectionRepo) DeleteProviderConnection(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pcs[id]; !ok {
		return connection.ErrProviderConnectionNotFound
	}
	for icID, ic := range s.ics {
		if ic.ProviderConnectionID == id {
			s.detachAndDeleteIC(icID)
		}
	}
	delete(s.pcs, id)
	return nil
}

func (s ConnectionRepo) GetInstitution(ctx context.Context, providerID int64, externalID string) (*connection.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.insts {
		if inst.ProviderID == providerID && inst.ExternalID == externalID {
			c := *inst
			return &c, nil
		}
	}
	return nil, connection.ErrInstitutionNotFound
}

func (s ConnectionRepo) UpsertInstitution(ctx context.Context, params connection.UpsertInstitutionParams) (*connection.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.insts {
		if inst.ProviderID == params.ProviderID && inst.ExternalID == params.ExternalID {
			inst.Name = params.Name
			c := *inst
			return &c, nil
		}
	}
	inst := &connection.Institution{ID: s.id(), ProviderID: params.ProviderID, ExternalID: params.ExternalID, Name: params.Name}
	s.insts[inst.ID] = inst
	c := *inst
	return &c, nil
}

func (s ConnectionRepo) GetInstitutionConnection(ctx context.Context, userID string, institutionID int64) (*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ic := range s.ics {
		v := s.icView(ic)
		if v.UserID == userID && ic.InstitutionID == institutionID {
			return v, nil
		}
	}
	return nil, connection.ErrInstitutionConnectionNotFound
}

func (s ConnectionRepo) GetInstitutionConnectionByID(ctx context.Context, id int64) (*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic, ok := s.ics[id]
	if !ok {
		return nil, connection.ErrInstitutionConnectionNotFound
	}
	return s.icView(ic), nil
}

func (s ConnectionRepo) FindInstitutionConnection(ctx context.Context, providerConnectionID int64, connectionID string) (*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ic := range s.ics {
		if ic.ProviderConnectionID == providerConnectionID && ic.ConnectionID == connectionID {
			return s.icView(ic), nil
		}
	}
	return nil, connection.ErrInstitutionConnectionNotFound
}

func (s ConnectionRepo) FindInstitutionConnectionByVendorID(ctx context.Context, providerID int64, connectionID string) (*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ic := range s.ics {
		pc, ok := s.pcs[ic.ProviderConnectionID]
		if ok && pc.ProviderID == providerID && ic.ConnectionID == connectionID {
			return s.icView(ic), nil
		}
	}
	return nil, connection.ErrInstitutionConnectionNotFound
}

func (s ConnectionRepo) ListInstitutionConnections(ctx context.Context, providerConnectionID int64) ([]*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*connection.InstitutionConnection
	for _, ic := range s.ics {
		if ic.ProviderConnectionID == providerConnectionID {
			out = append(out, s.icView(ic))
		}
	}
	return out, nil
}

func (s ConnectionRepo) ListInstitutionConnectionsByProvider(ctx context.Context, providerID int64) ([]*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*connection.InstitutionConnection
	for _, ic := range s.ics {
		if pc, ok := s.pcs[ic.ProviderConnectionID]; ok && pc.ProviderID == providerID {
			out = append(out, s.icView(ic))
		}
	}
	return out, nil
}

func (s ConnectionRepo) UpsertInstitutionConnection(ctx context.Context, params connection.UpsertInstitutionConnectionParams) (*connection.InstitutionConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ic := range s.ics {
		if ic.ProviderConnectionID == params.ProviderConnectionID && ic.InstitutionID == params.InstitutionID {
			ic.ConnectionID = params.ConnectionID
			ic.Credential = params.Credential
			ic.Broken = false
			ic.BrokenReason = ""
			return s.icView(ic), nil
		}
	}
	ic := &connection.InstitutionConnection{
		ID:                   s.id(),
		ProviderConnectionID: params.ProviderConnectionID,
		InstitutionID:        params.InstitutionID,
		ConnectionID:         params.ConnectionID,
		Credential:           params.Credential,
		CreatedAt:            time.Now(),
	}
	s.ics[ic.ID] = ic
	return s.icView(ic), nil
}

func (s ConnectionRepo) SetBroken(ctx context.Context, id int64, broken bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic, ok := s.ics[id]
	if !ok {
		return connection.ErrInstitutionConnectionNotFound
	}
	ic.Broken = broken
	ic.BrokenReason = reason
	return nil
}

func (s ConnectionRepo) DeleteInstitutionConnection(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ics[id]; !ok {
		return connection.ErrInstitutionConnectionNotFound
	}
	s.detachAndDeleteIC(id)
	return nil
}

func (s ConnectionRepo) GetAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*connection.AccountConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ac := range s.acs {
		if ac.AccountID == accountID && ac.InstitutionConnectionID == institutionConnectionID {
			c := *ac
			return &c, nil
		}
	}
	return nil, connection.ErrAccountConnectionNotFound
}

func (s ConnectionRepo) UpsertAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*connection.AccountConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ac := range s.acs {
		if ac.AccountID == accountID && ac.InstitutionConnectionID == institutionConnectionID {
			c := *ac
			return &c, nil
		}
	}
	ac := &connection.AccountConnection{ID: s.id(), AccountID: accountID, InstitutionConnectionID: institutionConnectionID}
	s.acs[ac.ID] = ac
	c := *ac
	return &c, nil
}

func (s ConnectionRepo) DeleteAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for acID, ac := range s.acs {
		if ac.AccountID != accountID || ac.InstitutionConnectionID != institutionConnectionID {
			continue
		}
		for id, acc := range s.accounts {
			if acc.AccountConnectionID != nil && *acc.AccountConnectionID == acID {
				s.deleteAccount(id)
			}
		}
		delete(s.acs, acID)
		return nil
	}
	return connection.ErrAccountConnectionNotFound
}

// AccountRepo implements account.Repository and transaction.BalanceAdjuster
type AccountRepo struct{ *Store }

func (s AccountRepo) Create(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := &account.Account{
		ID:       s.id(),
		UserID:   params.UserID,
		Name:     params.Name,
		Type:     account.TypeForSubtype(params.Subtype),
		Subtype:  params.Subtype,
		Value:     params.Value,
		Currency:  params.Currency,
		CostBasis: params.CostBasis,
		ParentID:  params.ParentID,
	}
	s.accounts[acc.ID] = acc
	c := *acc
	return &c, nil
}

func (s AccountRepo) GetByID(ctx context.Context, id int64) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (s AccountRepo) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*account.Account
	for _, acc := range s.accounts {
		if acc.UserID == userID {
			c := *acc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s AccountRepo) ListByInstitutionConnection(ctx context.Context, institutionConnectionID int64) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*account.Account
	for _, acc := range s.accounts {
		if acc.InstitutionConnectionID != nil && *acc.InstitutionConnectionID == institutionConnectionID {
			c := *acc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s AccountRepo) UpsertConnected(ctx context.Context, params account.UpsertConnectedParams) (*account.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.UserID == params.UserID && acc.AccountConnectionID != nil && *acc.AccountConnectionID == params.AccountConnectionID {
			acc.Name = params.Name
			acc.Value = params.Value
			acc.Currency = params.Currency
			acc.CostBasis = params.CostBasis
			acc.Subtype = params.Subtype
			acc.Type = params.Type
			c := *acc
			return &c, false, nil
		}
	}
	acID := params.AccountConnectionID
	icID := params.InstitutionConnectionID
	acc := &account.Account{
		ID:                      s.id(),
		UserID:                  params.UserID,
		Name:                    params.Name,
		Type:                    params.Type,
		Subtype:                 params.Subtype,
		Value:                   params.Value,
		Currency:                params.Currency,
		CostBasis:               params.CostBasis,
		AccountConnectionID:     &acID,
		InstitutionConnectionID: &icID,
		ProviderAccountID:       params.ProviderAccountID,
	}
	s.accounts[acc.ID] = acc
	c := *acc
	return &c, true, nil
}

func (s AccountRepo) UpsertHolding(ctx context.Context, params account.UpsertHoldingParams) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.ParentID != nil && *acc.ParentID == params.ParentID && acc.ProviderAccountID == params.Symbol {
			acc.Name = params.Name
			acc.Value = params.Value
			acc.Currency = params.Currency
			acc.CostBasis = params.CostBasis
			c := *acc
			return &c, nil
		}
	}
	parentID := params.ParentID
	acc := &account.Account{
		ID:                s.id(),
		UserID:            params.UserID,
		Name:              params.Name,
		Type:              account.TypeAsset,
		Subtype:           account.SubtypeStock,
		Value:             params.Value,
		Currency:          params.Currency,
		CostBasis:         params.CostBasis,
		ParentID:          &parentID,
		ProviderAccountID: params.Symbol,
	}
	s.accounts[acc.ID] = acc
	c := *acc
	return &c, nil
}

func (s AccountRepo) DeleteHoldingsExcept(ctx context.Context, parentID int64, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, acc := range s.accounts {
		if acc.ParentID == nil || *acc.ParentID != parentID || acc.ProviderAccountID == "" || slices.Contains(keep, acc.ProviderAccountID) {
			continue
		}
		delete(s.accounts, id)
		n++
	}
	return n, nil
}

// Holdings returns copies of the accounts nested under parentID
func (s *Store) Holdings(parentID int64) []*account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*account.Account
	for _, acc := range s.accounts {
		if acc.ParentID != nil && *acc.ParentID == parentID {
			c := *acc
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *account.Account) int { return strings.Compare(a.ProviderAccountID, b.ProviderAccountID) })
	return out
}

func (s AccountRepo) AdjustValue(ctx context.Context, id int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return account.ErrAccountNotFound
	}
	acc.Value = acc.Value.Add(delta)
	return nil
}

func (s AccountRepo) SetValue(ctx context.Context, id int64, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return account.ErrAccountNotFound
	}
	acc.Value = value
	return nil
}

func (s AccountRepo) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return account.ErrAccountNotFound
	}
	s.deleteAccount(id)
	return nil
}

// TransactionRepo implements transaction.Repository
type TransactionRepo struct{ *Store }

func (s TransactionRepo) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction.Transaction{
		ID:          s.id(),
		AccountID:   params.AccountID,
		Date:        params.Date,
		Amount:      params.Amount,
		Currency:    params.Currency,
		Description: params.Description,
		Category:    params.Category,
	}
	s.txs[tx.ID] = tx
	c := *tx
	return &c, nil
}

func (s TransactionRepo) GetByID(ctx context.Context, id int64) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	c := *tx
	return &c, nil
}

func (s TransactionRepo) ListByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range s.txs {
		if tx.AccountID == accountID {
			c := *tx
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s TransactionRepo) Update(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	if params.Amount != nil {
		tx.Amount = *params.Amount
	}
	if params.Date != nil {
		tx.Date = *params.Date
	}
	if params.Description != nil {
		tx.Description = *params.Description
	}
	if params.Category != nil {
		tx.Category = *params.Category
	}
	c := *tx
	return &c, nil
}

func (s TransactionRepo) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return transaction.ErrTransactionNotFound
	}
	delete(s.txs, id)
	return nil
}

func (s TransactionRepo) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, *decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs[params.ProviderTransactionID]; err != nil {
		return nil, nil, err
	}
	for _, tx := range s.txs {
		if tx.AccountID == params.AccountID && tx.ProviderTransactionID == params.ProviderTransactionID {
			previous := tx.Amount
			tx.Amount = params.Amount
			tx.Date = params.Date
			tx.Description = params.Description
			tx.Category = params.Category
			c := *tx
			return &c, &previous, nil
		}
	}
	tx := &transaction.Transaction{
		ID:                    s.id(),
		AccountID:             params.AccountID,
		ProviderTransactionID: params.ProviderTransactionID,
		Date:                  params.Date,
		Amount:                params.Amount,
		Currency:              params.Currency,
		Description:           params.Description,
		Category:              params.Category,
	}
	s.txs[tx.ID] = tx
	c := *tx
	return &c, nil, nil
}

func (s TransactionRepo) Restore(ctx context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *tx
	s.txs[tx.ID] = &c
	return nil
}

// Adapter serves canned accounts per connection id and transactions per account id
type Adapter struct {
	name     string
	mu       sync.Mutex
	accounts map[string][]provider.Account
	txs      map[string][]provider.Transaction

	// AccountsErr, when set, is returned by Accounts.
	AccountsErr     error
	ConnectRequests []provider.ConnectRequest
}

// NewAdapter creates an adapter with no accounts
func NewAdapter(name string) *Adapter {
	return &Adapter{
		name:     name,
		accounts: make(map[string][]provider.Account),
		txs:      make(map[string][]provider.Transaction),
	}
}

func (f *Adapter) Name() string { return f.name }

func (f *Adapter) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectRequests = append(f.ConnectRequests, req)
	return "https://connect.example/" + req.InstitutionRef, nil
}

func (f *Adapter) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountsErr != nil {
		return nil, f.AccountsErr
	}
	return append([]provider.Account(nil), f.accounts[creds.ConnectionID]...), nil
}

func (f *Adapter) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Transaction(nil), f.txs[accountID]...), nil
}

// SetAccounts replaces the accounts reported for a connection
func (f *Adapter) SetAccounts(connectionID string, accounts ...provider.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[connectionID] = accounts
}

// SetTransactions replaces the transactions reported for an account
func (f *Adapter) SetTransactions(accountID string, txs ...provider.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[accountID] = txs
}

// HoldingsAdapter is an Adapter that also reports brokerage positions
type HoldingsAdapter struct {
	*Adapter
	holdings map[string][]provider.Holding
}

// NewHoldingsAdapter creates a holdings-reporting adapter with no accounts
func NewHoldingsAdapter(name string) *HoldingsAdapter {
	return &HoldingsAdapter{Adapter: NewAdapter(name), holdings: make(map[string][]provider.Holding)}
}

func (f *HoldingsAdapter) Holdings(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Holding(nil), f.holdings[accountID]...), nil
}

// SetHoldings replaces the positions reported for an account
func (f *HoldingsAdapter) SetHoldings(accountID string, holdings ...provider.Holding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdings[accountID] = holdings
}

// RefreshingAdapter is an Adapter whose vendor can refresh a connection on demand
type RefreshingAdapter struct {
	*Adapter
	Refreshed []string
}

func (f *RefreshingAdapter) RefreshConnection(ctx context.Context, creds provider.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refreshed = append(f.Refreshed, creds.ConnectionID)
	return nil
}

// CompletingAdapter is an Adapter whose connect flow ends with a completion call
type CompletingAdapter struct {
	*Adapter
	Connection provider.Connection
	Requests   []provider.CompleteRequest
}

func (f *CompletingAdapter) CompleteConnection(ctx context.Context, req provider.CompleteRequest) (*provider.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	c := f.Connection
	return &c, nil
}
