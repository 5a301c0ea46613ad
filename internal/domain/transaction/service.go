package transaction

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service keeps transactions and the owning account's cached value in step.
// Every write is followed by the matching value adjustment; when the adjustment
// fails the transaction write is undone by hand, since the two are separate
// round trips to the store.
type Service struct {
	repo     Repository
	balances BalanceAdjuster
}

// NewService creates a new transaction service
func NewService(repo Repository, balances BalanceAdjuster) *Service {
	return &Service{repo: repo, balances: balances}
}

// Get returns one transaction
func (s *Service) Get(ctx context.Context, id int64) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByAccount pages through an account's transactions, newest first
func (s *Service) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByAccountID(ctx, accountID, limit, offset)
}

// Upsert writes a provider transaction keyed on (provider_transaction_id, account_id)
// and moves the account value by the amount (insert) or by new-old (update).
// Replaying the same transaction leaves the value untouched.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (*UpsertResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, previous, err := s.repo.Upsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}

	result := &UpsertResult{Transaction: tx, Created: previous == nil, Delta: tx.Amount}
	if previous != nil {
		result.Delta = tx.Amount.Sub(*previous)
	}
	if result.Delta.IsZero() {
		return result, nil
	}

	if err := s.balances.AdjustValue(ctx, tx.AccountID, result.Delta); err != nil {
		var undoErr error
		if previous == nil {
			undoErr = s.repo.Delete(ctx, tx.ID)
		} else {
			_, undoErr = s.repo.Update(ctx, tx.ID, UpdateParams{Amount: previous})
		}
		return nil, s.compensationError(tx, err, undoErr)
	}

	return result, nil
}

// Create inserts a manual transaction and adds its amount to the account value
func (s *Service) Create(ctx context.Context, params CreateParams) (*Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if tx.Amount.IsZero() {
		return tx, nil
	}

	if err := s.balances.AdjustValue(ctx, tx.AccountID, tx.Amount); err != nil {
		return nil, s.compensationError(tx, err, s.repo.Delete(ctx, tx.ID))
	}

	return tx, nil
}

// Update changes a transaction and shifts the account value by the amount delta
func (s *Service) Update(ctx context.Context, id int64, params UpdateParams) (*Transaction, error) {
	before, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	after, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	delta := after.Amount.Sub(before.Amount)
	if delta.IsZero() {
		return after, nil
	}

	if err := s.balances.AdjustValue(ctx, after.AccountID, delta); err != nil {
		_, undoErr := s.repo.Update(ctx, id, UpdateParams{
			Amount:      &before.Amount,
			Date:        &before.Date,
			Description: &before.Description,
			Category:    &before.Category,
		})
		return nil, s.compensationError(after, err, undoErr)
	}

	return after, nil
}

// Delete removes a transaction and takes its amount back out of the account value
func (s *Service) Delete(ctx context.Context, id int64) error {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	if tx.Amount.IsZero() {
		return nil
	}

	if err := s.balances.AdjustValue(ctx, tx.AccountID, tx.Amount.Neg()); err != nil {
		return s.compensationError(tx, err, s.repo.Restore(ctx, tx))
	}

	return nil
}

// Total sums the amounts of a set of transactions
func Total(txs []*Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	return sum
}

func (s *Service) compensationError(tx *Transaction, adjustErr, undoErr error) error {
	if undoErr != nil {
		log.Printf("Account %d: transaction %d left inconsistent, value update failed (%v) and rollback failed (%v)",
			tx.AccountID, tx.ID, adjustErr, undoErr)
		return errors.Join(
			fmt.Errorf("failed to adjust account value: %w", adjustErr),
			fmt.Errorf("failed to roll back transaction %d: %w", tx.ID, undoErr),
		)
	}
	log.Printf("Account %d: rolled back transaction %d after value update failed: %v", tx.AccountID, tx.ID, adjustErr)
	return fmt.Errorf("failed to adjust account value: %w", adjustErr)
}
