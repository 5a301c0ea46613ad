package teller

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

// subtypes maps Teller "type/subtype" to a ledger subtype. Credit subtypes
// other than credit_card fall back to loan.
var subtypes = provider.SubtypeTable{
	"depository/checking":               account.SubtypeDepository,
	"depository/savings":                account.SubtypeDepository,
	"depository/money_market":           account.SubtypeDepository,
	"depository/certificate_of_deposit": account.SubtypeDepository,
	"depository/treasury":               account.SubtypeDepository,
	"depository/sweep":                  account.SubtypeDepository,
	"credit/credit_card":                account.SubtypeCreditCard,
}

func classify(typ, subtype string) (string, string) {
	key := strings.ToLower(typ + "/" + subtype)
	if _, ok := subtypes[key]; !ok {
		switch strings.ToLower(typ) {
		case "depository":
			return account.TypeForSubtype(account.SubtypeDepository), account.SubtypeDepository
		case "credit":
			return account.TypeForSubtype(account.SubtypeLoan), account.SubtypeLoan
		}
	}
	return subtypes.Classify(Name, key)
}

type institution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type accountResource struct {
	ID           string      `json:"id"`
	EnrollmentID string      `json:"enrollment_id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	Currency     string      `json:"currency"`
	LastFour     string      `json:"last_four"`
	Status       string      `json:"status"`
	Institution  institution `json:"institution"`
}

type balances struct {
	Ledger    *decimal.Decimal `json:"ledger"`
	Available *decimal.Decimal `json:"available"`
}

func (a accountResource) normalize(bal balances) provider.Account {
	typ, subtype := classify(a.Type, a.Subtype)

	value := decimal.Zero
	switch {
	case bal.Ledger != nil:
		value = *bal.Ledger
	case bal.Available != nil:
		value = *bal.Available
	}
	// Teller reports the amount owed on credit accounts as a positive ledger
	if a.Type == "credit" {
		value = value.Neg()
	}

	name := provider.CleanText(a.Name)
	if a.LastFour != "" {
		name += " ..." + a.LastFour
	}

	return provider.Account{
		ProviderAccountID: a.ID,
		ConnectionID:      a.EnrollmentID,
		Name:              name,
		Type:              typ,
		Subtype:           subtype,
		Value:             value,
		Currency:          strings.ToUpper(a.Currency),
		SyncCompleted:     true,
	}
}

type transactionResource struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Details     struct {
		Category     string `json:"category"`
		Counterparty struct {
			Name string `json:"name"`
		} `json:"counterparty"`
	} `json:"details"`
}

func (t transactionResource) normalize(liability bool) (provider.Transaction, error) {
	date, err := time.Parse(time.DateOnly, t.Date)
	if err != nil {
		return provider.Transaction{}, fmt.Errorf("failed to parse date %q: %w", t.Date, err)
	}
	amount := t.Amount
	if liability {
		amount = amount.Neg()
	}
	description := t.Details.Counterparty.Name
	if description == "" {
		description = t.Description
	}
	return provider.Transaction{
		ProviderTransactionID: t.ID,
		Date:                  date,
		Amount:                amount,
		Currency:              "USD",
		Description:           provider.CleanText(description),
		Category:              t.Details.Category,
		Pending:               t.Status == "pending",
	}, nil
}
