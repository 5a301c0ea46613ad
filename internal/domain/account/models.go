package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Account types. The type is never set directly; it follows from the subtype.
const (
	TypeAsset     = "asset"
	TypeLiability = "liability"
)

// Account subtypes.
const (
	SubtypeDepository = "depository"
	SubtypeBrokerage  = "brokerage"
	SubtypeCrypto     = "crypto"
	SubtypeProperty   = "property"
	SubtypeVehicle    = "vehicle"
	SubtypeCreditCard = "creditcard"
	SubtypeLoan       = "loan"
	SubtypeStock      = "stock"
)

var subtypes = map[string]struct{}{
	SubtypeDepository: {},
	SubtypeBrokerage:  {},
	SubtypeCrypto:     {},
	SubtypeProperty:   {},
	SubtypeVehicle:    {},
	SubtypeCreditCard: {},
	SubtypeLoan:       {},
	SubtypeStock:      {},
}

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidSubtype  = errors.New("invalid account subtype")
	ErrTypeMismatch    = errors.New("account type does not match subtype")
	ErrInvalidCurrency = errors.New("valid ISO 4217 currency is required")
	ErrInvalidInput    = errors.New("invalid input")
)

// Account is a ledger account, either linked to an aggregator connection or entered manually.
type Account struct {
	ID                      int64            `json:"id"`
	UserID                  string           `json:"userId"`
	Name                    string           `json:"name"`
	Type                    string           `json:"type"`
	Subtype                 string           `json:"subtype"`
	Value                   decimal.Decimal  `json:"value"`
	Currency                string           `json:"currency"`
	CostBasis               *decimal.Decimal `json:"costBasis,omitempty"`
	ParentID                *int64           `json:"parentId,omitempty"`
	InstitutionConnectionID *int64           `json:"institutionConnectionId,omitempty"`
	AccountConnectionID     *int64           `json:"accountConnectionId,omitempty"`
	ProviderAccountID       string           `json:"providerAccountId,omitempty"`
	CreatedAt               time.Time        `json:"createdAt"`
	UpdatedAt               time.Time        `json:"updatedAt"`
}

// IsLinked reports whether the account is still attached to an aggregator connection.
func (a *Account) IsLinked() bool {
	return a.AccountConnectionID != nil
}

// CreateParams contains parameters for creating a manual account
type CreateParams struct {
	UserID    string
	Name      string
	Subtype   string
	Value     decimal.Decimal
	Currency  string
	CostBasis *decimal.Decimal
	ParentID  *int64
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidSubtype(p.Subtype) {
		return ErrInvalidSubtype
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// UpsertConnectedParams describes an aggregator-linked account. The row is keyed
// on (UserID, AccountConnectionID).
type UpsertConnectedParams struct {
	UserID                  string
	AccountConnectionID     int64
	InstitutionConnectionID int64
	ProviderAccountID       string
	Name                    string
	Type                    string // optional; must agree with Subtype when set
	Subtype                 string
	Value                   decimal.Decimal
	Currency                string
	CostBasis               *decimal.Decimal
}

// Validate validates the upsert parameters
func (p UpsertConnectedParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required for upsert")
	}
	if p.AccountConnectionID <= 0 || p.InstitutionConnectionID <= 0 {
		return errors.New("connection IDs are required for upsert")
	}
	if p.ProviderAccountID == "" {
		return errors.New("provider account ID is required for upsert")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidSubtype(p.Subtype) {
		return ErrInvalidSubtype
	}
	if p.Type != "" && p.Type != TypeForSubtype(p.Subtype) {
		return ErrTypeMismatch
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// UpsertHoldingParams describes one position held inside a linked brokerage
// account. The row is a stock account keyed on (ParentID, Symbol).
type UpsertHoldingParams struct {
	UserID    string
	ParentID  int64
	Symbol    string
	Name      string
	Value     decimal.Decimal
	Currency  string
	CostBasis *decimal.Decimal
}

// Validate validates the holding parameters
func (p UpsertHoldingParams) Validate() error {
	if p.UserID == "" || p.ParentID <= 0 {
		return errors.New("user ID and parent account are required for a holding")
	}
	if p.Symbol == "" {
		return errors.New("holding symbol is required")
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// TypeForSubtype derives the account type: credit cards and loans are liabilities,
// everything else is an asset.
func TypeForSubtype(subtype string) string {
	switch subtype {
	case SubtypeCreditCard, SubtypeLoan:
		return TypeLiability
	default:
		return TypeAsset
	}
}

// IsValidSubtype checks if the provided subtype is known.
func IsValidSubtype(s string) bool {
	_, ok := subtypes[s]
	return ok
}

// IsValidCurrency checks for a three-letter upper-case ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
