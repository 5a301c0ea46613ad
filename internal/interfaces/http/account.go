package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/shared/middleware"
)

// AccountService is the ledger account surface used by the API
type AccountService interface {
	CreateAccount(ctx context.Context, params account.CreateParams) (*account.Account, error)
	GetAccount(ctx context.Context, accountID int64, userID string) (*account.Account, error)
	ListAccountsByUserID(ctx context.Context, userID string) ([]*account.Account, error)
	DeleteAccount(ctx context.Context, accountID int64, userID string) error
}

type AccountHandler struct {
	accounts AccountService
}

func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// CreateAccountRequest creates a manual account. The type follows from the subtype.
type CreateAccountRequest struct {
	Name      string           `json:"name"`
	Subtype   string           `json:"subtype"`
	Value     decimal.Decimal  `json:"value"`
	Currency  string           `json:"currency"`
	CostBasis *decimal.Decimal `json:"costBasis,omitempty"`
	ParentID  *int64           `json:"parentId,omitempty"`
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accounts, err := h.accounts.ListAccountsByUserID(r.Context(), userID)
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: list accounts", userID))
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeSuccess(w, http.StatusOK, accounts)
}

// HandleCreateAccount creates a manual account
func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc, err := h.accounts.CreateAccount(r.Context(), account.CreateParams{
		UserID:    userID,
		Name:      req.Name,
		Subtype:   req.Subtype,
		Value:     req.Value,
		Currency:  req.Currency,
		CostBasis: req.CostBasis,
		ParentID:  req.ParentID,
	})
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: create account", userID))
		return
	}

	writeSuccess(w, http.StatusCreated, acc)
}

// HandleGetAccount returns one of the user's accounts
func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	acc, err := h.accounts.GetAccount(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: get account %d", userID, id))
		return
	}

	writeSuccess(w, http.StatusOK, acc)
}

// HandleDeleteAccount deletes one of the user's accounts and its transactions
func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id, userID); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: delete account %d", userID, id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
