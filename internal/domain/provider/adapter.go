package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Adapter translates one aggregator API into normalized accounts and transactions
type Adapter interface {
	Name() string
	ConnectURL(ctx context.Context, req ConnectRequest) (string, error)
	Accounts(ctx context.Context, creds Credentials) ([]Account, error)
	Transactions(ctx context.Context, creds Credentials, accountID string, since time.Time) ([]Transaction, error)
}

// UserRegistrar is implemented by adapters that keep a vendor-side user per local user
type UserRegistrar interface {
	RegisterUser(ctx context.Context, userID string) (*Registration, error)
	// DeregisterUser is a no-op when the vendor has nothing registered for the user.
	DeregisterUser(ctx context.Context, userID, secret string) error
}

// HoldingsReporter lists the positions held in a brokerage account
type HoldingsReporter interface {
	Holdings(ctx context.Context, creds Credentials, accountID string) ([]Holding, error)
}

// ConnectionRefresher asks the vendor to pull fresh data for a connection
type ConnectionRefresher interface {
	RefreshConnection(ctx context.Context, creds Credentials) error
}

// ConnectionCompleter finishes a redirect or client-side connect flow
type ConnectionCompleter interface {
	CompleteConnection(ctx context.Context, req CompleteRequest) (*Connection, error)
}

// ConnectionDescriber resolves the institution behind a vendor connection id
type ConnectionDescriber interface {
	DescribeConnection(ctx context.Context, creds Credentials) (*Connection, error)
}

// WebhookParser authenticates and classifies vendor callbacks
type WebhookParser interface {
	// RequiredFields lists JSONPath expressions that must resolve in every callback body.
	RequiredFields() []string
	Verify(header http.Header, body []byte) error
	Parse(query url.Values, body []byte) ([]Event, error)
}
