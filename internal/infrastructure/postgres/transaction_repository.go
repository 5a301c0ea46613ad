package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository for PostgreSQL
type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, account_id, date, amount, currency, description, category, provider_transaction_id, created_at, updated_at
`

func scanTransaction(row rowScanner, extra ...any) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var providerTxID sql.NullString

	dest := []any{
		&tx.ID, &tx.AccountID, &tx.Date, &tx.Amount, &tx.Currency, &tx.Description, &tx.Category,
		&providerTxID, &tx.CreatedAt, &tx.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	tx.ProviderTransactionID = providerTxID.String
	return &tx, nil
}

func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transaction (account_id, date, amount, currency, description, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.AccountID, params.Date, params.Amount, params.Currency, params.Description, params.Category,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*transaction.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transaction WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transaction
		WHERE account_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Update changes only the fields set in params
func (r *TransactionRepository) Update(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error) {
	query := `
		UPDATE transaction
		SET amount = COALESCE($2, amount),
		    date = COALESCE($3, date),
		    description = COALESCE($4, description),
		    category = COALESCE($5, category),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + transactionColumns

	var date sql.NullTime
	if params.Date != nil {
		date = sql.NullTime{Time: *params.Date, Valid: true}
	}
	var description, category sql.NullString
	if params.Description != nil {
		description = sql.NullString{String: *params.Description, Valid: true}
	}
	if params.Category != nil {
		category = sql.NullString{String: *params.Category, Valid: true}
	}

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, nullDecimal(params.Amount), date, description, category))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transaction WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

// Upsert writes on (provider_transaction_id, account_id). The insert skips an
// existing row; otherwise the row is locked before its amount is read, so
// concurrent deliveries of the same transaction each see the amount they replace.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, *decimal.Decimal, error) {
	var result *transaction.Transaction
	var previous *decimal.Decimal

	err := r.db.WithTx(ctx, "UpsertTransaction", func(tx *sql.Tx) error {
		inserted, err := scanTransaction(tx.QueryRowContext(ctx, `
			INSERT INTO transaction (account_id, provider_transaction_id, date, amount, currency, description, category)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT `+conflictTransaction+` DO NOTHING
			RETURNING `+transactionColumns,
			params.AccountID, params.ProviderTransactionID, params.Date, params.Amount,
			params.Currency, params.Description, params.Category,
		))
		if err == nil {
			result = inserted
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		var amount decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT amount FROM transaction
			WHERE provider_transaction_id = $2 AND account_id = $1
			FOR UPDATE
		`, params.AccountID, params.ProviderTransactionID).Scan(&amount)
		if err != nil {
			return fmt.Errorf("failed to lock transaction: %w", err)
		}
		previous = &amount

		updated, err := scanTransaction(tx.QueryRowContext(ctx, `
			UPDATE transaction
			SET date = $3, amount = $4, currency = $5, description = $6, category = $7, updated_at = NOW()
			WHERE provider_transaction_id = $2 AND account_id = $1
			RETURNING `+transactionColumns,
			params.AccountID, params.ProviderTransactionID, params.Date, params.Amount,
			params.Currency, params.Description, params.Category,
		))
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return result, previous, nil
}

// Restore re-inserts a deleted row with its original id and timestamps
func (r *TransactionRepository) Restore(ctx context.Context, tx *transaction.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transaction (
			id, account_id, date, amount, currency, description, category,
			provider_transaction_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tx.ID, tx.AccountID, tx.Date, tx.Amount, tx.Currency, tx.Description, tx.Category,
		nullString(tx.ProviderTransactionID), tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to restore transaction %d: %w", tx.ID, err)
	}
	return nil
}
