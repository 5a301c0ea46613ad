package enablebanking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

// cashAccountTypes maps ISO 20022 cash account type codes to ledger subtypes
var cashAccountTypes = provider.SubtypeTable{
	"cacc": account.SubtypeDepository,
	"svgs": account.SubtypeDepository,
	"tran": account.SubtypeDepository,
	"moma": account.SubtypeDepository,
	"cash": account.SubtypeDepository,
	"othr": account.SubtypeDepository,
	"card": account.SubtypeCreditCard,
	"loan": account.SubtypeLoan,
	"mgld": account.SubtypeLoan,
}

// balancePreference orders ISO 20022 balance types from most to least useful
var balancePreference = []string{"CLBD", "ITBD", "ITAV", "CLAV", "XPCD", "OPBD"}

type access struct {
	ValidUntil string `json:"valid_until"`
}

type aspsp struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

type authRequest struct {
	Access      access `json:"access"`
	ASPSP       aspsp  `json:"aspsp"`
	State       string `json:"state"`
	RedirectURL string `json:"redirect_url"`
	PSUType     string `json:"psu_type"`
}

type authResponse struct {
	URL string `json:"url"`
}

type sessionRequest struct {
	Code string `json:"code"`
}

// sessionResponse covers both POST /sessions (accounts as objects) and GET
// /sessions/{id} (accounts as uids); only uids are kept
type sessionResponse struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	ASPSP     aspsp      `json:"aspsp"`
	Accounts  accountIDs `json:"accounts"`
}

type accountIDs []string

func (ids *accountIDs) UnmarshalJSON(b []byte) error {
	var plain []string
	if err := json.Unmarshal(b, &plain); err == nil {
		*ids = plain
		return nil
	}
	var objects []struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(b, &objects); err != nil {
		return err
	}
	for _, o := range objects {
		*ids = append(*ids, o.UID)
	}
	return nil
}

type amount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type accountDetails struct {
	UID             string `json:"uid"`
	Name            string `json:"name"`
	Product         string `json:"product"`
	CashAccountType string `json:"cash_account_type"`
	Currency        string `json:"currency"`
	AccountID       struct {
		IBAN string `json:"iban"`
	} `json:"account_id"`
}

func (d accountDetails) normalize(sessionID string, balance *amount) provider.Account {
	typ, subtype := cashAccountTypes.Classify(Name, d.CashAccountType)
	name := provider.CleanText(d.Name)
	if name == "" {
		name = provider.CleanText(d.Product)
	}
	if name == "" && len(d.AccountID.IBAN) > 4 {
		name = "Account ..." + d.AccountID.IBAN[len(d.AccountID.IBAN)-4:]
	}
	acc := provider.Account{
		ProviderAccountID: d.UID,
		ConnectionID:      sessionID,
		Name:              name,
		Type:              typ,
		Subtype:           subtype,
		Currency:          strings.ToUpper(d.Currency),
		SyncCompleted:     true,
	}
	if balance != nil {
		acc.Value = balance.Amount
		if acc.Currency == "" {
			acc.Currency = strings.ToUpper(balance.Currency)
		}
	}
	return acc
}

type balance struct {
	Name          string `json:"name"`
	BalanceAmount amount `json:"balance_amount"`
	BalanceType   string `json:"balance_type"`
}

type balancesResponse struct {
	Balances []balance `json:"balances"`
}

func (r balancesResponse) preferred() *amount {
	for _, want := range balancePreference {
		for _, b := range r.Balances {
			if b.BalanceType == want {
				return &b.BalanceAmount
			}
		}
	}
	if len(r.Balances) > 0 {
		return &r.Balances[0].BalanceAmount
	}
	return nil
}

type party struct {
	Name string `json:"name"`
}

type transactionResource struct {
	EntryReference        string   `json:"entry_reference"`
	TransactionID         string   `json:"transaction_id"`
	TransactionAmount     amount   `json:"transaction_amount"`
	CreditDebitIndicator  string   `json:"credit_debit_indicator"`
	Status                string   `json:"status"`
	BookingDate           string   `json:"booking_date"`
	ValueDate             string   `json:"value_date"`
	TransactionDate       string   `json:"transaction_date"`
	RemittanceInformation []string `json:"remittance_information"`
	Creditor              *party   `json:"creditor"`
	Debtor                *party   `json:"debtor"`
}

// id returns a stable identifier; banks that omit both references get a content hash
func (t transactionResource) id() string {
	if t.EntryReference != "" {
		return t.EntryReference
	}
	if t.TransactionID != "" {
		return t.TransactionID
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		t.BookingDate, t.ValueDate, t.TransactionAmount.Amount.String(), t.CreditDebitIndicator,
		strings.Join(t.RemittanceInformation, " "),
	}, "|")))
	return "h:" + hex.EncodeToString(sum[:16])
}

func (t transactionResource) normalize() (provider.Transaction, error) {
	raw := t.BookingDate
	for _, d := range []string{t.ValueDate, t.TransactionDate} {
		if raw == "" {
			raw = d
		}
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return provider.Transaction{}, fmt.Errorf("failed to parse booking date %q: %w", raw, err)
	}

	value := t.TransactionAmount.Amount.Abs()
	if t.CreditDebitIndicator == "DBIT" {
		value = value.Neg()
	}

	description := strings.Join(t.RemittanceInformation, " ")
	if description == "" {
		switch {
		case t.CreditDebitIndicator == "DBIT" && t.Creditor != nil:
			description = t.Creditor.Name
		case t.Debtor != nil:
			description = t.Debtor.Name
		}
	}

	return provider.Transaction{
		ProviderTransactionID: t.id(),
		Date:                  date,
		Amount:                value,
		Currency:              strings.ToUpper(t.TransactionAmount.Currency),
		Description:           provider.CleanText(description),
		Pending:               t.Status == "PDNG",
	}, nil
}

type transactionsResponse struct {
	Transactions    []transactionResource `json:"transactions"`
	ContinuationKey string                `json:"continuation_key"`
}
