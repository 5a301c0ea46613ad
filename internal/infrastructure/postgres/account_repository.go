package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, user_id, name, type, subtype, value, currency, cost_basis, parent_id,
	institution_connection_id, account_connection_id, provider_account_id, created_at, updated_at
`

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var costBasis decimal.NullDecimal
	var parentID, icID, acID sql.NullInt64
	var providerAccountID sql.NullString

	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.Name, &acc.Type, &acc.Subtype, &acc.Value, &acc.Currency,
		&costBasis, &parentID, &icID, &acID, &providerAccountID,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if costBasis.Valid {
		acc.CostBasis = &costBasis.Decimal
	}
	acc.ParentID = int64Ptr(parentID)
	acc.InstitutionConnectionID = int64Ptr(icID)
	acc.AccountConnectionID = int64Ptr(acID)
	acc.ProviderAccountID = providerAccountID.String

	return &acc, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create creates a manual account
func (r *AccountRepository) Create(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	query := `
		INSERT INTO account (user_id, name, type, subtype, value, currency, cost_basis, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Name, account.TypeForSubtype(params.Subtype), params.Subtype,
		params.Value, params.Currency, nullDecimal(params.CostBasis), nullInt64(params.ParentID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*account.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM account WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) list(ctx context.Context, where string, arg any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM account WHERE `+where+` ORDER BY created_at DESC, id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// ListByUserID retrieves all accounts for a specific user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	return r.list(ctx, `user_id = $1`, userID)
}

// ListByInstitutionConnection retrieves the accounts linked to one institution connection
func (r *AccountRepository) ListByInstitutionConnection(ctx context.Context, institutionConnectionID int64) ([]*account.Account, error) {
	return r.list(ctx, `institution_connection_id = $1`, institutionConnectionID)
}

// UpsertConnected writes a linked account on (user_id, account_connection_id).
// xmax is zero only for a freshly inserted row.
func (r *AccountRepository) UpsertConnected(ctx context.Context, params account.UpsertConnectedParams) (*account.Account, bool, error) {
	query := `
		INSERT INTO account (
			user_id, name, type, subtype, value, currency, cost_basis,
			institution_connection_id, account_connection_id, provider_account_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ` + conflictAccount + `
		DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			subtype = EXCLUDED.subtype,
			value = EXCLUDED.value,
			currency = EXCLUDED.currency,
			cost_basis = EXCLUDED.cost_basis,
			institution_connection_id = EXCLUDED.institution_connection_id,
			provider_account_id = EXCLUDED.provider_account_id,
			updated_at = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0) AS inserted
	`

	var acc account.Account
	var costBasis decimal.NullDecimal
	var parentID, icID, acID sql.NullInt64
	var providerAccountID sql.NullString
	var inserted bool

	err := r.db.QueryRowContext(ctx, query,
		params.UserID, params.Name, params.Type, params.Subtype, params.Value, params.Currency,
		nullDecimal(params.CostBasis), params.InstitutionConnectionID, params.AccountConnectionID,
		nullString(params.ProviderAccountID),
	).Scan(
		&acc.ID, &acc.UserID, &acc.Name, &acc.Type, &acc.Subtype, &acc.Value, &acc.Currency,
		&costBasis, &parentID, &icID, &acID, &providerAccountID,
		&acc.CreatedAt, &acc.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}

	if costBasis.Valid {
		acc.CostBasis = &costBasis.Decimal
	}
	acc.ParentID = int64Ptr(parentID)
	acc.InstitutionConnectionID = int64Ptr(icID)
	acc.AccountConnectionID = int64Ptr(acID)
	acc.ProviderAccountID = providerAccountID.String

	return &acc, inserted, nil
}

// UpsertHolding writes a stock position on (parent_id, provider_account_id)
func (r *AccountRepository) UpsertHolding(ctx context.Context, params account.UpsertHoldingParams) (*account.Account, error) {
	query := `
		INSERT INTO account (user_id, name, type, subtype, value, currency, cost_basis, parent_id, provider_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ` + conflictHolding + `
		DO UPDATE SET
			name = EXCLUDED.name,
			value = EXCLUDED.value,
			currency = EXCLUDED.currency,
			cost_basis = EXCLUDED.cost_basis,
			updated_at = NOW()
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Name, account.TypeForSubtype(account.SubtypeStock), account.SubtypeStock,
		params.Value, params.Currency, nullDecimal(params.CostBasis), params.ParentID, params.Symbol,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert holding %s: %w", params.Symbol, err)
	}
	return acc, nil
}

// DeleteHoldingsExcept drops provider-fed positions under parentID missing from keep
func (r *AccountRepository) DeleteHoldingsExcept(ctx context.Context, parentID int64, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM account
		WHERE parent_id = $1
		  AND account_connection_id IS NULL
		  AND provider_account_id IS NOT NULL
		  AND NOT (provider_account_id = ANY($2))
	`, parentID, pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale holdings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// AdjustValue adds delta to the cached value in a single statement
func (r *AccountRepository) AdjustValue(ctx context.Context, id int64, delta decimal.Decimal) error {
	return r.updateValue(ctx, `UPDATE account SET value = value + $2, updated_at = NOW() WHERE id = $1`, id, delta)
}

// SetValue overwrites the cached value with the vendor-reported balance
func (r *AccountRepository) SetValue(ctx context.Context, id int64, value decimal.Decimal) error {
	return r.updateValue(ctx, `UPDATE account SET value = $2, updated_at = NOW() WHERE id = $1`, id, value)
}

func (r *AccountRepository) updateValue(ctx context.Context, query string, id int64, v decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, query, id, v)
	if err != nil {
		return fmt.Errorf("failed to update account value: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// Delete removes an account; its transactions cascade
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}
