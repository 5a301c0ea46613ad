package http

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/notification"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/transaction"
	"finlink/internal/shared/middleware"
)

// withUser stands in for the Auth middleware
func withUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type MockLinker struct {
	ConnectFunc    func(ctx context.Context, params link.ConnectParams) (string, error)
	CompleteFunc   func(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error)
	RefreshFunc    func(ctx context.Context, userID, providerName string, institutionConnectionID int64) error
	DeregisterFunc func(ctx context.Context, userID, providerName string) error
}

func (m *MockLinker) Connect(ctx context.Context, params link.ConnectParams) (string, error) {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, params)
	}
	return "", nil
}

func (m *MockLinker) Complete(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, userID, providerName, params)
	}
	return &connection.InstitutionConnection{}, &reconcile.Result{}, nil
}

func (m *MockLinker) Refresh(ctx context.Context, userID, providerName string, institutionConnectionID int64) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, userID, providerName, institutionConnectionID)
	}
	return nil
}

func (m *MockLinker) Deregister(ctx context.Context, userID, providerName string) error {
	if m.DeregisterFunc != nil {
		return m.DeregisterFunc(ctx, userID, providerName)
	}
	return nil
}

type MockSyncTrigger struct {
	RunNowFunc func(ctx context.Context) (int, error)
	Calls      int
}

func (m *MockSyncTrigger) RunNow(ctx context.Context) (int, error) {
	m.Calls++
	if m.RunNowFunc != nil {
		return m.RunNowFunc(ctx)
	}
	return 0, nil
}

type MockEventHandler struct {
	HandleFunc func(ctx context.Context, ev provider.Event) (*reconcile.Result, error)
	Events     []provider.Event
}

func (m *MockEventHandler) Handle(ctx context.Context, ev provider.Event) (*reconcile.Result, error) {
	m.Events = append(m.Events, ev)
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, ev)
	}
	return &reconcile.Result{Event: ev.Type}, nil
}

// MockWebhookAdapter is an adapter that accepts callbacks
type MockWebhookAdapter struct {
	name       string
	required   []string
	VerifyFunc func(header http.Header, body []byte) error
	ParseFunc  func(query url.Values, body []byte) ([]provider.Event, error)
}

func (m *MockWebhookAdapter) Name() string { return m.name }

func (m *MockWebhookAdapter) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	return "", nil
}

func (m *MockWebhookAdapter) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	return nil, nil
}

func (m *MockWebhookAdapter) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	return nil, nil
}

func (m *MockWebhookAdapter) RequiredFields() []string { return m.required }

func (m *MockWebhookAdapter) Verify(header http.Header, body []byte) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(header, body)
	}
	return nil
}

func (m *MockWebhookAdapter) Parse(query url.Values, body []byte) ([]provider.Event, error) {
	if m.ParseFunc != nil {
		return m.ParseFunc(query, body)
	}
	return nil, nil
}

type MockAccountService struct {
	CreateAccountFunc        func(ctx context.Context, params account.CreateParams) (*account.Account, error)
	GetAccountFunc           func(ctx context.Context, accountID int64, userID string) (*account.Account, error)
	ListAccountsByUserIDFunc func(ctx context.Context, userID string) ([]*account.Account, error)
	DeleteAccountFunc        func(ctx context.Context, accountID int64, userID string) error
}

func (m *MockAccountService) CreateAccount(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockAccountService) GetAccount(ctx context.Context, accountID int64, userID string) (*account.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, accountID, userID)
	}
	return nil, account.ErrAccountNotFound
}

func (m *MockAccountService) ListAccountsByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	if m.ListAccountsByUserIDFunc != nil {
		return m.ListAccountsByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockAccountService) DeleteAccount(ctx context.Context, accountID int64, userID string) error {
	if m.DeleteAccountFunc != nil {
		return m.DeleteAccountFunc(ctx, accountID, userID)
	}
	return nil
}

// ownedBy returns a GetAccountFunc that only finds the given accounts for owner
func ownedBy(owner string, accounts ...*account.Account) func(ctx context.Context, accountID int64, userID string) (*account.Account, error) {
	return func(ctx context.Context, accountID int64, userID string) (*account.Account, error) {
		for _, acc := range accounts {
			if acc.ID == accountID && userID == owner {
				return acc, nil
			}
		}
		return nil, account.ErrAccountNotFound
	}
}

type MockTransactionService struct {
	GetFunc           func(ctx context.Context, id int64) (*transaction.Transaction, error)
	ListByAccountFunc func(ctx context.Context, accountID int64, limit, offset int) ([]*transaction.Transaction, error)
	CreateFunc        func(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error)
	UpdateFunc        func(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error)
	DeleteFunc        func(ctx context.Context, id int64) error
}

func (m *MockTransactionService) Get(ctx context.Context, id int64) (*transaction.Transaction, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, transaction.ErrTransactionNotFound
}

func (m *MockTransactionService) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*transaction.Transaction, error) {
	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountID, limit, offset)
	}
	return nil, nil
}

func (m *MockTransactionService) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockTransactionService) Update(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, params)
	}
	return nil, nil
}

func (m *MockTransactionService) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

type MockDeviceRegistrar struct {
	RegisterDeviceFunc func(ctx context.Context, params notification.RegisterDeviceParams) (*notification.DeviceToken, error)
}

func (m *MockDeviceRegistrar) RegisterDevice(ctx context.Context, params notification.RegisterDeviceParams) (*notification.DeviceToken, error) {
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(ctx, params)
	}
	return &notification.DeviceToken{Token: params.Token, Active: true}, nil
}

func newRouter(userID string, mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(withUser(userID))
	mount(r)
	return r
}
