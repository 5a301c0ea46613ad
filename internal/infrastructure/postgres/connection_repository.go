package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finlink/internal/domain/connection"
)

// SecretCipher encrypts vendor secrets before they reach the database
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ConnectionRepository implements connection.Repository for PostgreSQL
type ConnectionRepository struct {
	db     *DB
	cipher SecretCipher
}

var _ connection.Repository = (*ConnectionRepository)(nil)

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB, cipher SecretCipher) *ConnectionRepository {
	return &ConnectionRepository{db: db, cipher: cipher}
}

// SeedProviders inserts the named providers, leaving existing rows alone
func (r *ConnectionRepository) SeedProviders(ctx context.Context, names []string) (int, error) {
	inserted := 0
	for _, name := range names {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO provider (name) VALUES ($1) ON CONFLICT `+conflictProvider+` DO NOTHING`, name)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed provider %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (r *ConnectionRepository) GetProviderByName(ctx context.Context, name string) (*connection.Provider, error) {
	var p connection.Provider
	err := r.db.QueryRowContext(ctx, `SELECT id, name, logo FROM provider WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Logo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

const providerConnectionColumns = `
	pc.id, pc.provider_id, p.name, pc.user_id, pc.external_user_id, pc.secret, pc.created_at, pc.updated_at
`

func (r *ConnectionRepository) scanProviderConnection(row rowScanner) (*connection.ProviderConnection, error) {
	var pc connection.ProviderConnection
	var secret string
	if err := row.Scan(&pc.ID, &pc.ProviderID, &pc.ProviderName, &pc.UserID, &pc.ExternalUserID,
		&secret, &pc.CreatedAt, &pc.UpdatedAt); err != nil {
		return nil, err
	}
	plain, err := r.cipher.Decrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt provider secret for connection %d: %w", pc.ID, err)
	}
	pc.Secret = plain
	return &pc, nil
}

func (r *ConnectionRepository) getProviderConnection(ctx context.Context, where string, args ...any) (*connection.ProviderConnection, error) {
	query := `SELECT ` + providerConnectionColumns + `
		FROM provider_connection pc
		JOIN provider p ON p.id = pc.provider_id
		WHERE ` + where

	pc, err := r.scanProviderConnection(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrProviderConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider connection: %w", err)
	}
	return pc, nil
}

func (r *ConnectionRepository) GetProviderConnection(ctx context.Context, providerID int64, userID string) (*connection.ProviderConnection, error) {
	return r.getProviderConnection(ctx, `pc.provider_id = $1 AND pc.user_id = $2`, providerID, userID)
}

func (r *ConnectionRepository) GetProviderConnectionByExternalUser(ctx context.Context, providerID int64, externalUserID string) (*connection.ProviderConnection, error) {
	return r.getProviderConnection(ctx, `pc.provider_id = $1 AND pc.external_user_id = $2`, providerID, externalUserID)
}

// UpsertProviderConnection stores the vendor user; the last writer wins on (provider_id, user_id)
func (r *ConnectionRepository) UpsertProviderConnection(ctx context.Context, params connection.UpsertProviderConnectionParams) (*connection.ProviderConnection, error) {
	secret, err := r.cipher.Encrypt(params.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt provider secret: %w", err)
	}

	query := `
		INSERT INTO provider_connection (provider_id, user_id, external_user_id, secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ` + conflictProviderConnection + ` DO UPDATE
			SET external_user_id = EXCLUDED.external_user_id,
			    secret = EXCLUDED.secret,
			    updated_at = NOW()
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, params.ProviderID, params.UserID, params.ExternalUserID, secret).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to upsert provider connection: %w", err)
	}
	return r.getProviderConnection(ctx, `pc.id = $1`, id)
}

// DeleteProviderConnection detaches the user's linked accounts, then deletes the
// provider connection. Institution connections and account connections cascade.
func (r *ConnectionRepository) DeleteProviderConnection(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, "DeleteProviderConnection", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE account
			SET account_connection_id = NULL, institution_connection_id = NULL, updated_at = NOW()
			WHERE institution_connection_id IN (
				SELECT id FROM institution_connection WHERE provider_connection_id = $1
			)
			OR account_connection_id IN (
				SELECT ac.id FROM account_connection ac
				JOIN institution_connection ic ON ic.id = ac.institution_connection_id
				WHERE ic.provider_connection_id = $1
			)
		`, id)
		if err != nil {
			return fmt.Errorf("failed to detach accounts: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM provider_connection WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete provider connection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return connection.ErrProviderConnectionNotFound
		}
		return nil
	})
}

func (r *ConnectionRepository) GetInstitution(ctx context.Context, providerID int64, externalID string) (*connection.Institution, error) {
	var inst connection.Institution
	err := r.db.QueryRowContext(ctx, `
		SELECT id, provider_id, external_id, name, logo, country
		FROM institution
		WHERE provider_id = $1 AND external_id = $2
	`, providerID, externalID).Scan(&inst.ID, &inst.ProviderID, &inst.ExternalID, &inst.Name, &inst.Logo, &inst.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrInstitutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	return &inst, nil
}

// UpsertInstitution keeps the stored name unless the vendor sent a new one
func (r *ConnectionRepository) UpsertInstitution(ctx context.Context, params connection.UpsertInstitutionParams) (*connection.Institution, error) {
	query := `
		INSERT INTO institution (provider_id, external_id, name, logo, country)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ` + conflictInstitution + ` DO UPDATE
			SET name = COALESCE(NULLIF(EXCLUDED.name, ''), institution.name),
			    logo = COALESCE(NULLIF(EXCLUDED.logo, ''), institution.logo),
			    country = COALESCE(NULLIF(EXCLUDED.country, ''), institution.country)
		RETURNING id, provider_id, external_id, name, logo, country
	`

	var inst connection.Institution
	err := r.db.QueryRowContext(ctx, query, params.ProviderID, params.ExternalID, params.Name, params.Logo, params.Country).
		Scan(&inst.ID, &inst.ProviderID, &inst.ExternalID, &inst.Name, &inst.Logo, &inst.Country)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert institution: %w", err)
	}
	return &inst, nil
}

const institutionConnectionSelect = `
	SELECT ic.id, ic.provider_connection_id, ic.institution_id, i.external_id, i.name, p.name, pc.user_id,
	       ic.connection_id, COALESCE(ic.credential, ''), ic.broken, ic.broken_reason, ic.created_at, ic.updated_at
	FROM institution_connection ic
	JOIN provider_connection pc ON pc.id = ic.provider_connection_id
	JOIN provider p ON p.id = pc.provider_id
	JOIN institution i ON i.id = ic.institution_id
`

func (r *ConnectionRepository) scanInstitutionConnection(row rowScanner) (*connection.InstitutionConnection, error) {
	var ic connection.InstitutionConnection
	var credential string
	err := row.Scan(
		&ic.ID, &ic.ProviderConnectionID, &ic.InstitutionID, &ic.InstitutionRef, &ic.InstitutionName,
		&ic.ProviderName, &ic.UserID, &ic.ConnectionID, &credential, &ic.Broken, &ic.BrokenReason,
		&ic.CreatedAt, &ic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plain, err := r.cipher.Decrypt(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for institution connection %d: %w", ic.ID, err)
	}
	ic.Credential = plain
	return &ic, nil
}

func (r *ConnectionRepository) getInstitutionConnection(ctx context.Context, where string, args ...any) (*connection.InstitutionConnection, error) {
	ic, err := r.scanInstitutionConnection(r.db.QueryRowContext(ctx, institutionConnectionSelect+` WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrInstitutionConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get institution connection: %w", err)
	}
	return ic, nil
}

func (r *ConnectionRepository) listInstitutionConnections(ctx context.Context, where string, args ...any) ([]*connection.InstitutionConnection, error) {
	rows, err := r.db.QueryContext(ctx, institutionConnectionSelect+` WHERE `+where+` ORDER BY ic.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list institution connections: %w", err)
	}
	defer rows.Close()

	var ics []*connection.InstitutionConnection
	for rows.Next() {
		ic, err := r.scanInstitutionConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan institution connection: %w", err)
		}
		ics = append(ics, ic)
	}
	return ics, rows.Err()
}

func (r *ConnectionRepository) GetInstitutionConnection(ctx context.Context, userID string, institutionID int64) (*connection.InstitutionConnection, error) {
	return r.getInstitutionConnection(ctx, `pc.user_id = $1 AND ic.institution_id = $2`, userID, institutionID)
}

func (r *ConnectionRepository) GetInstitutionConnectionByID(ctx context.Context, id int64) (*connection.InstitutionConnection, error) {
	return r.getInstitutionConnection(ctx, `ic.id = $1`, id)
}

func (r *ConnectionRepository) FindInstitutionConnection(ctx context.Context, providerConnectionID int64, connectionID string) (*connection.InstitutionConnection, error) {
	return r.getInstitutionConnection(ctx, `ic.provider_connection_id = $1 AND ic.connection_id = $2`, providerConnectionID, connectionID)
}

func (r *ConnectionRepository) FindInstitutionConnectionByVendorID(ctx context.Context, providerID int64, connectionID string) (*connection.InstitutionConnection, error) {
	return r.getInstitutionConnection(ctx, `pc.provider_id = $1 AND ic.connection_id = $2`, providerID, connectionID)
}

func (r *ConnectionRepository) ListInstitutionConnections(ctx context.Context, providerConnectionID int64) ([]*connection.InstitutionConnection, error) {
	return r.listInstitutionConnections(ctx, `ic.provider_connection_id = $1`, providerConnectionID)
}

func (r *ConnectionRepository) ListInstitutionConnectionsByProvider(ctx context.Context, providerID int64) ([]*connection.InstitutionConnection, error) {
	return r.listInstitutionConnections(ctx, `pc.provider_id = $1`, providerID)
}

// UpsertInstitutionConnection writes on (provider_connection_id, institution_id), so a
// reconnect rewrites the existing row and clears the broken flag.
func (r *ConnectionRepository) UpsertInstitutionConnection(ctx context.Context, params connection.UpsertInstitutionConnectionParams) (*connection.InstitutionConnection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	credential, err := r.cipher.Encrypt(params.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt connection credential: %w", err)
	}

	query := `
		INSERT INTO institution_connection (provider_connection_id, institution_id, connection_id, credential)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ` + conflictInstitutionConnection + ` DO UPDATE
			SET connection_id = EXCLUDED.connection_id,
			    credential = COALESCE(EXCLUDED.credential, institution_connection.credential),
			    broken = FALSE,
			    broken_reason = '',
			    updated_at = NOW()
		RETURNING id
	`

	var id int64
	err = r.db.QueryRowContext(ctx, query, params.ProviderConnectionID, params.InstitutionID, params.ConnectionID, nullString(credential)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("connection %s is already linked to another institution: %w", params.ConnectionID, err)
		}
		return nil, fmt.Errorf("failed to upsert institution connection: %w", err)
	}
	return r.GetInstitutionConnectionByID(ctx, id)
}

func (r *ConnectionRepository) SetBroken(ctx context.Context, id int64, broken bool, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE institution_connection
		SET broken = $2, broken_reason = $3, updated_at = NOW()
		WHERE id = $1
	`, id, broken, reason)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connection.ErrInstitutionConnectionNotFound
	}
	return nil
}

// DeleteInstitutionConnection detaches linked accounts before deleting, since
// removing the account connections would otherwise cascade to the accounts.
func (r *ConnectionRepository) DeleteInstitutionConnection(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, "DeleteInstitutionConnection", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE account
			SET account_connection_id = NULL, institution_connection_id = NULL, updated_at = NOW()
			WHERE institution_connection_id = $1
			OR account_connection_id IN (SELECT id FROM account_connection WHERE institution_connection_id = $1)
		`, id)
		if err != nil {
			return fmt.Errorf("failed to detach accounts: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM institution_connection WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete institution connection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return connection.ErrInstitutionConnectionNotFound
		}
		return nil
	})
}

func (r *ConnectionRepository) GetAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*connection.AccountConnection, error) {
	var ac connection.AccountConnection
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, institution_connection_id
		FROM account_connection
		WHERE account_id = $1 AND institution_connection_id = $2
	`, accountID, institutionConnectionID).Scan(&ac.ID, &ac.AccountID, &ac.InstitutionConnectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrAccountConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account connection: %w", err)
	}
	return &ac, nil
}

func (r *ConnectionRepository) UpsertAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*connection.AccountConnection, error) {
	// The no-op update makes RETURNING yield the existing row on conflict
	query := `
		INSERT INTO account_connection (account_id, institution_connection_id)
		VALUES ($1, $2)
		ON CONFLICT ` + conflictAccountConnection + ` DO UPDATE
			SET account_id = EXCLUDED.account_id
		RETURNING id, account_id, institution_connection_id
	`

	var ac connection.AccountConnection
	err := r.db.QueryRowContext(ctx, query, accountID, institutionConnectionID).
		Scan(&ac.ID, &ac.AccountID, &ac.InstitutionConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account connection: %w", err)
	}
	return &ac, nil
}

// DeleteAccountConnection removes the link; the account and its transactions cascade
func (r *ConnectionRepository) DeleteAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM account_connection
		WHERE account_id = $1 AND institution_connection_id = $2
	`, accountID, institutionConnectionID)
	if err != nil {
		return fmt.Errorf("failed to delete account connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connection.ErrAccountConnectionNotFound
	}
	return nil
}
