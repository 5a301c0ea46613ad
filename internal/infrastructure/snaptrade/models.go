package snaptrade

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

// cryptoExchanges lists brokerage slugs whose accounts hold crypto; every
// other SnapTrade account is a brokerage account
var cryptoExchanges = map[string]bool{
	"BINANCE":      true,
	"BINANCE-US":   true,
	"COINBASE":     true,
	"KRAKEN":       true,
	"CRYPTO.COM":   true,
	"GEMINI":       true,
	"BITVAVO":      true,
	"KUCOIN":       true,
	"OKX":          true,
	"UPHOLD":       true,
	"BITSTAMP":     true,
	"COINBASE-PRO": true,
}

func classify(institutionSlug, institutionName string) (typ, subtype string) {
	subtype = account.SubtypeBrokerage
	if cryptoExchanges[strings.ToUpper(institutionSlug)] || cryptoExchanges[strings.ToUpper(institutionName)] {
		subtype = account.SubtypeCrypto
	}
	return account.TypeForSubtype(subtype), subtype
}

type registerRequest struct {
	UserID string `json:"userId"`
}

type registerResponse struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

type loginRequest struct {
	Broker            string `json:"broker,omitempty"`
	ImmediateRedirect bool   `json:"immediateRedirect"`
	CustomRedirect    string `json:"customRedirect,omitempty"`
	Reconnect         string `json:"reconnect,omitempty"`
	ConnectionType    string `json:"connectionType"`
}

type loginResponse struct {
	RedirectURI string `json:"redirectURI"`
	SessionID   string `json:"sessionId"`
}

type brokerage struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type authorization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Disabled  bool      `json:"disabled"`
	Brokerage brokerage `json:"brokerage"`
}

type money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type accountResource struct {
	ID                     string `json:"id"`
	BrokerageAuthorization string `json:"brokerage_authorization"`
	Name                   string `json:"name"`
	Number                 string `json:"number"`
	InstitutionName        string `json:"institution_name"`
	RawType                string `json:"raw_type"`
	Meta                   struct {
		Type            string `json:"type"`
		InstitutionSlug string `json:"brokerage_slug"`
	} `json:"meta"`
	Balance struct {
		Total *money `json:"total"`
	} `json:"balance"`
	SyncStatus struct {
		Holdings struct {
			InitialSyncCompleted bool `json:"initial_sync_completed"`
		} `json:"holdings"`
	} `json:"sync_status"`
}

func (a accountResource) normalize() provider.Account {
	typ, subtype := classify(a.Meta.InstitutionSlug, a.InstitutionName)
	acc := provider.Account{
		ProviderAccountID: a.ID,
		ConnectionID:      a.BrokerageAuthorization,
		Name:              provider.CleanText(a.Name),
		Type:              typ,
		Subtype:           subtype,
		Currency:          "USD",
		SyncCompleted:     a.SyncStatus.Holdings.InitialSyncCompleted,
	}
	if acc.Name == "" {
		acc.Name = provider.CleanText(a.InstitutionName)
	}
	if total := a.Balance.Total; total != nil {
		acc.Value = total.Amount
		if total.Currency != "" {
			acc.Currency = strings.ToUpper(total.Currency)
		}
	}
	return acc
}

type position struct {
	Symbol struct {
		Symbol struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
			Currency    struct {
				Code string `json:"code"`
			} `json:"currency"`
		} `json:"symbol"`
	} `json:"symbol"`
	Units                decimal.Decimal  `json:"units"`
	Price                decimal.Decimal  `json:"price"`
	AveragePurchasePrice *decimal.Decimal `json:"average_purchase_price"`
	Currency             *struct {
		Code string `json:"code"`
	} `json:"currency"`
}

// normalize values the position at units * price; closed positions are dropped
func (p position) normalize() (provider.Holding, bool) {
	sym := p.Symbol.Symbol
	if sym.Symbol == "" || p.Units.IsZero() {
		return provider.Holding{}, false
	}
	currency := sym.Currency.Code
	if p.Currency != nil && p.Currency.Code != "" {
		currency = p.Currency.Code
	}
	if currency == "" {
		currency = "USD"
	}
	h := provider.Holding{
		Symbol:   strings.ToUpper(sym.Symbol),
		Name:     provider.CleanText(sym.Description),
		Units:    p.Units,
		Value:    p.Units.Mul(p.Price).Round(4),
		Currency: strings.ToUpper(currency),
	}
	if p.AveragePurchasePrice != nil {
		cost := p.Units.Mul(*p.AveragePurchasePrice).Round(4)
		h.CostBasis = &cost
	}
	return h, true
}

type activitiesPage struct {
	Data       []activity `json:"data"`
	Pagination struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

type activity struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	TradeDate      string          `json:"trade_date"`
	SettlementDate string          `json:"settlement_date"`
	Currency       struct {
		Code string `json:"code"`
	} `json:"currency"`
}

func (a activity) normalize() (provider.Transaction, error) {
	raw := a.TradeDate
	if raw == "" {
		raw = a.SettlementDate
	}
	date, err := parseDate(raw)
	if err != nil {
		return provider.Transaction{}, fmt.Errorf("activity %s: %w", a.ID, err)
	}
	return provider.Transaction{
		ProviderTransactionID: a.ID,
		Date:                  date,
		Amount:                a.Amount,
		Currency:              strings.ToUpper(a.Currency.Code),
		Description:           provider.CleanText(a.Description),
		Category:              strings.ToLower(a.Type),
	}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse date %q", s)
}
