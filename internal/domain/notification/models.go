package notification

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrDeviceTokenNotFound = errors.New("device token not found")
	ErrInvalidToken        = errors.New("device token is required")
)

// maxTokenLength bounds what the device endpoint accepts; FCM tokens are ~160 chars.
const maxTokenLength = 4096

// Route values carried in the push payload so the app can open the right screen
const (
	RouteConnections = "connections"
)

// DeviceToken represents a registered FCM device token
type DeviceToken struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	Token     string    `json:"token"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterDeviceParams contains parameters for registering a device
type RegisterDeviceParams struct {
	UserID string
	Token  string
}

func (p RegisterDeviceParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	if len(p.Token) > maxTokenLength {
		return errors.New("device token is too long")
	}
	return nil
}
