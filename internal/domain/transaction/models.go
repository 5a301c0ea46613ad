package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Transaction is a ledger entry. Amount is signed: positive values are inflows.
type Transaction struct {
	ID                    int64           `json:"id"`
	AccountID             int64           `json:"accountId"`
	Date                  time.Time       `json:"date"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Description           string          `json:"description"`
	Category              string          `json:"category,omitempty"`
	ProviderTransactionID string          `json:"providerTransactionId,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// CreateParams is used for manual entries without a provider reference
type CreateParams struct {
	AccountID   int64
	Date        time.Time
	Amount      decimal.Decimal
	Currency    string
	Description string
	Category    string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.AccountID <= 0 {
		return errors.New("account ID is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	if len(p.Currency) != 3 {
		return errors.New("currency is required")
	}
	return nil
}

// UpdateParams holds the mutable fields of a transaction
type UpdateParams struct {
	Amount      *decimal.Decimal
	Date        *time.Time
	Description *string
	Category    *string
}

// UpsertParams is used for provider transactions, keyed on
// (ProviderTransactionID, AccountID).
type UpsertParams struct {
	AccountID             int64
	ProviderTransactionID string
	Date                  time.Time
	Amount                decimal.Decimal
	Currency              string
	Description           string
	Category              string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.AccountID <= 0 {
		return errors.New("account ID is required for upsert")
	}
	if p.ProviderTransactionID == "" {
		return errors.New("provider transaction ID is required for upsert")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	if len(p.Currency) != 3 {
		return errors.New("currency is required")
	}
	return nil
}

// UpsertResult reports what an upsert did to the ledger
type UpsertResult struct {
	Transaction *Transaction
	Created     bool
	// Delta is the amount applied to the account value (zero on an unchanged replay).
	Delta decimal.Decimal
}
