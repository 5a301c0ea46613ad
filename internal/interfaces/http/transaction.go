package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/transaction"
	"finlink/internal/shared/middleware"
)

// TransactionService is the ledger transaction surface used by the API
type TransactionService interface {
	Get(ctx context.Context, id int64) (*transaction.Transaction, error)
	ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*transaction.Transaction, error)
	Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error)
	Update(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error)
	Delete(ctx context.Context, id int64) error
}

// TransactionHandler serves manual ledger entries. Ownership is checked through
// the owning account; entries on other users' accounts are reported as not found.
type TransactionHandler struct {
	transactions TransactionService
	accounts     AccountService
}

func NewTransactionHandler(transactions TransactionService, accounts AccountService) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, accounts: accounts}
}

type CreateTransactionRequest struct {
	AccountID   int64           `json:"accountId"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
}

type UpdateTransactionRequest struct {
	Date        *string          `json:"date,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
}

const dateLayout = "2006-01-02"

// HandleListTransactions returns a page of an account's transactions
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	accountID, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	if _, err := h.accounts.GetAccount(r.Context(), accountID, userID); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: list transactions", userID))
		return
	}

	txs, err := h.transactions.ListByAccount(r.Context(), accountID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: list transactions of account %d", userID, accountID))
		return
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}

	writeSuccess(w, http.StatusOK, txs)
}

// HandleCreateTransaction records a manual transaction and moves the account value
func (h *TransactionHandler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}

	acc, err := h.accounts.GetAccount(r.Context(), req.AccountID, userID)
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: create transaction", userID))
		return
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = acc.Currency
	}

	tx, err := h.transactions.Create(r.Context(), transaction.CreateParams{
		AccountID:   acc.ID,
		Date:        date,
		Amount:      req.Amount,
		Currency:    currency,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: create transaction on account %d", userID, acc.ID))
		return
	}

	writeSuccess(w, http.StatusCreated, tx)
}

// HandleUpdateTransaction changes the fields present in the body
func (h *TransactionHandler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var req UpdateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	params := transaction.UpdateParams{
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
	}
	if req.Date != nil {
		date, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
			return
		}
		params.Date = &date
	}

	if _, err := h.owned(r.Context(), id, userID); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: update transaction %d", userID, id))
		return
	}

	tx, err := h.transactions.Update(r.Context(), id, params)
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: update transaction %d", userID, id))
		return
	}

	writeSuccess(w, http.StatusOK, tx)
}

// HandleDeleteTransaction removes a transaction and takes its amount back out
func (h *TransactionHandler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	if _, err := h.owned(r.Context(), id, userID); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: delete transaction %d", userID, id))
		return
	}

	if err := h.transactions.Delete(r.Context(), id); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: delete transaction %d", userID, id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// owned loads a transaction and confirms the user owns its account
func (h *TransactionHandler) owned(ctx context.Context, id int64, userID string) (*transaction.Transaction, error) {
	tx, err := h.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := h.accounts.GetAccount(ctx, tx.AccountID, userID); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, transaction.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}
