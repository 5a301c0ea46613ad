package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Create creates a manual account
	Create(ctx context.Context, params CreateParams) (*Account, error)

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id int64) (*Account, error)

	// ListByUserID retrieves all accounts for a specific user
	ListByUserID(ctx context.Context, userID string) ([]*Account, error)

	// ListByInstitutionConnection retrieves the accounts linked to one institution connection
	ListByInstitutionConnection(ctx context.Context, institutionConnectionID int64) ([]*Account, error)

	// UpsertConnected creates or updates a linked account keyed on (user_id, account_connection_id).
	// The boolean reports whether a new row was created.
	UpsertConnected(ctx context.Context, params UpsertConnectedParams) (*Account, bool, error)

	// UpsertHolding creates or updates a stock account nested under a brokerage
	// account, keyed on (parent_id, provider_account_id).
	UpsertHolding(ctx context.Context, params UpsertHoldingParams) (*Account, error)

	// DeleteHoldingsExcept removes the parent's provider-fed holdings whose symbol is
	// not in keep. Manually created children are left alone.
	DeleteHoldingsExcept(ctx context.Context, parentID int64, keep []string) (int, error)

	// AdjustValue atomically adds delta to the account's cached value
	AdjustValue(ctx context.Context, id int64, delta decimal.Decimal) error

	// SetValue overwrites the account's cached value
	SetValue(ctx context.Context, id int64, value decimal.Decimal) error

	// Delete removes an account and, by cascade, its transactions
	Delete(ctx context.Context, id int64) error
}
