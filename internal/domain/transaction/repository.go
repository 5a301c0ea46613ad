package transaction

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for transaction data access
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Transaction, error)
	GetByID(ctx context.Context, id int64) (*Transaction, error)
	ListByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*Transaction, error)
	Update(ctx context.Context, id int64, params UpdateParams) (*Transaction, error)
	Delete(ctx context.Context, id int64) error

	// Upsert inserts or updates on (provider_transaction_id, account_id) and returns
	// the amount stored before the write, or nil when the row is new.
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, *decimal.Decimal, error)

	// Restore re-inserts a previously deleted row with its original ID
	Restore(ctx context.Context, tx *Transaction) error
}

// BalanceAdjuster applies value changes to the owning account.
// Implemented by the account repository.
type BalanceAdjuster interface {
	AdjustValue(ctx context.Context, accountID int64, delta decimal.Decimal) error
}
