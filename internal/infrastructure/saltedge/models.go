package saltedge

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

// natures maps an account nature to a ledger subtype
var natures = provider.SubtypeTable{
	"account":     account.SubtypeDepository,
	"checking":    account.SubtypeDepository,
	"savings":     account.SubtypeDepository,
	"card":        account.SubtypeDepository,
	"debit_card":  account.SubtypeDepository,
	"ewallet":     account.SubtypeDepository,
	"bonus":       account.SubtypeDepository,
	"insurance":   account.SubtypeDepository,
	"investment":  account.SubtypeBrokerage,
	"credit":      account.SubtypeLoan,
	"loan":        account.SubtypeLoan,
	"mortgage":    account.SubtypeLoan,
	"credit_card": account.SubtypeCreditCard,
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		NextID string `json:"next_id"`
	} `json:"meta"`
}

type customerRequest struct {
	Identifier string `json:"identifier"`
}

type customer struct {
	CustomerID string `json:"customer_id"`
	Identifier string `json:"identifier"`
}

type consent struct {
	Scopes []string `json:"scopes"`
}

type attempt struct {
	ReturnTo    string   `json:"return_to,omitempty"`
	FetchScopes []string `json:"fetch_scopes,omitempty"`
}

type connectRequest struct {
	CustomerID   string  `json:"customer_id,omitempty"`
	ProviderCode string  `json:"provider_code,omitempty"`
	Consent      consent `json:"consent"`
	Attempt      attempt `json:"attempt"`
}

type refreshRequest struct {
	Attempt attempt `json:"attempt"`
}

type connectSession struct {
	ConnectURL string `json:"connect_url"`
	ExpiresAt  string `json:"expires_at"`
}

type connectionResource struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	ProviderCode string `json:"provider_code"`
	ProviderName string `json:"provider_name"`
	Status       string `json:"status"`
}

type accountResource struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connection_id"`
	Name         string          `json:"name"`
	Nature       string          `json:"nature"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currency_code"`
}

func (a accountResource) normalize() provider.Account {
	typ, subtype := natures.Classify(Name, a.Nature)
	return provider.Account{
		ProviderAccountID: a.ID,
		ConnectionID:      a.ConnectionID,
		Name:              provider.CleanText(a.Name),
		Type:              typ,
		Subtype:           subtype,
		Value:             a.Balance,
		Currency:          strings.ToUpper(a.CurrencyCode),
		SyncCompleted:     true,
	}
}

type transactionResource struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	MadeOn       string          `json:"made_on"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Status       string          `json:"status"`
}

func (t transactionResource) normalize() (provider.Transaction, error) {
	date, err := time.Parse(time.DateOnly, t.MadeOn)
	if err != nil {
		return provider.Transaction{}, fmt.Errorf("failed to parse made_on %q: %w", t.MadeOn, err)
	}
	return provider.Transaction{
		ProviderTransactionID: t.ID,
		Date:                  date,
		Amount:                t.Amount,
		Currency:              strings.ToUpper(t.CurrencyCode),
		Description:           provider.CleanText(t.Description),
		Category:              t.Category,
		Pending:               t.Status == "pending",
	}, nil
}
