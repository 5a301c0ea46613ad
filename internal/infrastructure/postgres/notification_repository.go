package postgres

import (
	"context"
	"fmt"

	"finlink/internal/domain/notification"
)

type NotificationRepository struct {
	db *DB
}

var _ notification.Repository = (*NotificationRepository)(nil)

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// UpsertDeviceToken registers a device token. A token already known for another
// user is reassigned, since a device belongs to whoever signed in last.
func (r *NotificationRepository) UpsertDeviceToken(ctx context.Context, params notification.RegisterDeviceParams) (*notification.DeviceToken, error) {
	query := `
		INSERT INTO device_token (user_id, token)
		VALUES ($1, $2)
		ON CONFLICT ` + conflictDeviceToken + ` DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    active = TRUE
		RETURNING id, user_id, token, active, created_at
	`

	var dt notification.DeviceToken
	err := r.db.QueryRowContext(ctx, query, params.UserID, params.Token).Scan(
		&dt.ID, &dt.UserID, &dt.Token, &dt.Active, &dt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return &dt, nil
}

func (r *NotificationRepository) GetActiveTokensByUserID(ctx context.Context, userID string) ([]*notification.DeviceToken, error) {
	query := `
		SELECT id, user_id, token, active, created_at
		FROM device_token
		WHERE user_id = $1 AND active
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*notification.DeviceToken
	for rows.Next() {
		var dt notification.DeviceToken
		if err := rows.Scan(&dt.ID, &dt.UserID, &dt.Token, &dt.Active, &dt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, &dt)
	}

	return tokens, rows.Err()
}

func (r *NotificationRepository) DeactivateToken(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE device_token SET active = FALSE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notification.ErrDeviceTokenNotFound
	}
	return nil
}
