package vezgo

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

// Account statuses while Vezgo is still importing
var syncingStatuses = map[string]bool{
	"syncing": true,
	"pending": true,
}

type tokenRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type accountResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Provider struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	} `json:"provider"`
	FiatTicker string          `json:"fiat_ticker"`
	FiatValue  decimal.Decimal `json:"fiat_value"`
}

func (a accountResource) normalize() provider.Account {
	name := provider.CleanText(a.Provider.DisplayName)
	if name == "" {
		name = a.Provider.Name
	}
	currency := strings.ToUpper(a.FiatTicker)
	if currency == "" {
		currency = "USD"
	}
	return provider.Account{
		ProviderAccountID: a.ID,
		ConnectionID:      a.ID,
		Name:              name,
		Type:              account.TypeForSubtype(account.SubtypeCrypto),
		Subtype:           account.SubtypeCrypto,
		Value:             a.FiatValue,
		Currency:          currency,
		SyncCompleted:     !syncingStatuses[strings.ToLower(a.Status)],
	}
}

type transactionPart struct {
	Direction  string          `json:"direction"`
	Ticker     string          `json:"ticker"`
	Amount     decimal.Decimal `json:"amount"`
	FiatTicker string          `json:"fiat_ticker"`
	FiatValue  decimal.Decimal `json:"fiat_value"`
}

type transactionResource struct {
	ID              string            `json:"id"`
	TransactionType string            `json:"transaction_type"`
	Status          string            `json:"status"`
	InitiatedAt     int64             `json:"initiated_at"`
	ConfirmedAt     int64             `json:"confirmed_at"`
	Parts           []transactionPart `json:"parts"`
}

// normalize converts a transaction to its signed fiat value: received parts are
// inflows, sent parts outflows
func (t transactionResource) normalize() provider.Transaction {
	amount := decimal.Zero
	currency := ""
	var tickers []string
	for _, p := range t.Parts {
		switch strings.ToLower(p.Direction) {
		case "received":
			amount = amount.Add(p.FiatValue)
		case "sent":
			amount = amount.Sub(p.FiatValue)
		}
		if currency == "" {
			currency = strings.ToUpper(p.FiatTicker)
		}
		tickers = append(tickers, strings.ToUpper(p.Ticker))
	}
	if currency == "" {
		currency = "USD"
	}

	ms := t.ConfirmedAt
	if ms == 0 {
		ms = t.InitiatedAt
	}

	return provider.Transaction{
		ProviderTransactionID: t.ID,
		Date:                  time.UnixMilli(ms).UTC(),
		Amount:                amount,
		Currency:              currency,
		Description:           strings.TrimSpace(t.TransactionType + " " + strings.Join(tickers, "/")),
		Category:              t.TransactionType,
		Pending:               strings.EqualFold(t.Status, "pending"),
	}
}
