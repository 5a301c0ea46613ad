package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateAccount creates a manual account. The type is derived from the subtype.
func (s *Service) CreateAccount(ctx context.Context, params CreateParams) (*Account, error) {
	params.Currency = strings.ToUpper(params.Currency)

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return s.repo.Create(ctx, params)
}

// GetAccount retrieves an account by ID and verifies user ownership.
// Accounts owned by someone else are reported as not found.
func (s *Service) GetAccount(ctx context.Context, accountID int64, userID string) (*Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if acc.UserID != userID {
		return nil, ErrAccountNotFound
	}

	return acc, nil
}

// ListAccountsByUserID retrieves all accounts for a specific user
func (s *Service) ListAccountsByUserID(ctx context.Context, userID string) ([]*Account, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}

	return s.repo.ListByUserID(ctx, userID)
}

// ListLinkedAccounts returns the ledger accounts attached to an institution connection
func (s *Service) ListLinkedAccounts(ctx context.Context, institutionConnectionID int64) ([]*Account, error) {
	return s.repo.ListByInstitutionConnection(ctx, institutionConnectionID)
}

// UpsertConnected validates and stores an aggregator-linked account.
// The type on the stored row always comes from TypeForSubtype.
func (s *Service) UpsertConnected(ctx context.Context, params UpsertConnectedParams) (*Account, bool, error) {
	params.Currency = strings.ToUpper(params.Currency)

	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	params.Type = TypeForSubtype(params.Subtype)

	return s.repo.UpsertConnected(ctx, params)
}

// SyncHoldings mirrors a brokerage account's positions as nested stock accounts.
// Positions the vendor stopped reporting are removed. Returns the number kept.
func (s *Service) SyncHoldings(ctx context.Context, parent *Account, holdings []UpsertHoldingParams) (int, error) {
	if parent.Subtype != SubtypeBrokerage {
		return 0, fmt.Errorf("%w: holdings belong under a brokerage account, not %s", ErrInvalidInput, parent.Subtype)
	}

	keep := make([]string, 0, len(holdings))
	for _, h := range holdings {
		h.UserID = parent.UserID
		h.ParentID = parent.ID
		h.Currency = strings.ToUpper(h.Currency)
		if h.Name == "" {
			h.Name = h.Symbol
		}
		if err := h.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if _, err := s.repo.UpsertHolding(ctx, h); err != nil {
			return 0, err
		}
		keep = append(keep, h.Symbol)
	}

	if _, err := s.repo.DeleteHoldingsExcept(ctx, parent.ID, keep); err != nil {
		return 0, err
	}
	return len(keep), nil
}

// DeleteAccount deletes an account after verifying ownership
func (s *Service) DeleteAccount(ctx context.Context, accountID int64, userID string) error {
	if _, err := s.GetAccount(ctx, accountID, userID); err != nil {
		return err
	}

	return s.repo.Delete(ctx, accountID)
}

// SetValue overwrites the cached value with a figure reported by the provider
func (s *Service) SetValue(ctx context.Context, accountID int64, value decimal.Decimal) error {
	return s.repo.SetValue(ctx, accountID, value)
}
