package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectRequest carries what an adapter needs to build a connect or reconnect URL
type ConnectRequest struct {
	UserID         string
	Secret         string
	InstitutionRef string
	// ReconnectOf is the vendor connection id being repaired, empty for a new link.
	ReconnectOf string
	RedirectURL string
}

// CompleteRequest carries the parameters returned to us by a finished connect flow
type CompleteRequest struct {
	UserID string
	Secret string
	Params map[string]string
}

// Credentials identify one vendor connection on behalf of a user
type Credentials struct {
	UserID       string
	Secret       string
	ConnectionID string
	// AccessToken is the per-connection credential for vendors that issue one (Teller).
	AccessToken string
}

// Registration is the result of creating a vendor-side user
type Registration struct {
	ExternalUserID string
	Secret         string
}

// Account is a vendor account normalized to the ledger's vocabulary
type Account struct {
	ProviderAccountID string
	ConnectionID      string
	Name              string
	Type              string
	Subtype           string
	Value             decimal.Decimal
	Currency          string
	CostBasis         *decimal.Decimal
	// SyncCompleted is false while the vendor is still importing history.
	SyncCompleted bool
}

// Transaction is a vendor transaction with a signed amount (positive = inflow)
type Transaction struct {
	ProviderTransactionID string
	Date                  time.Time
	Amount                decimal.Decimal
	Currency              string
	Description           string
	Category              string
	Pending               bool
}

// Holding is one position inside a brokerage account, valued in Currency
type Holding struct {
	Symbol    string
	Name      string
	Units     decimal.Decimal
	Value     decimal.Decimal
	Currency  string
	CostBasis *decimal.Decimal
}

// Connection describes a vendor connection to one institution
type Connection struct {
	ConnectionID    string
	InstitutionRef  string
	InstitutionName string
	// Credential is a connection-scoped secret to store encrypted (Teller access token).
	Credential string
	// ReplacesConnectionID is set when a reconnect produced a new vendor id.
	ReplacesConnectionID string
}

// StartOfDay returns midnight UTC of t's UTC date. Vendor transaction dates
// carry no time of day, so since filters compare against whole days.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WithoutPending drops pending transactions
func WithoutPending(txs []Transaction) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Pending {
			continue
		}
		out = append(out, tx)
	}
	return out
}
