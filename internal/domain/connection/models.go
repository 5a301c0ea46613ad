package connection

import (
	"errors"
	"time"

	"finlink/internal/domain/provider"
)

// Domain errors
var (
	ErrProviderNotFound              = errors.New("provider not found")
	ErrProviderConnectionNotFound    = errors.New("provider connection not found")
	ErrInstitutionNotFound           = errors.New("institution not found")
	ErrInstitutionConnectionNotFound = errors.New("institution connection not found")
	ErrAccountConnectionNotFound     = errors.New("account connection not found")
)

// Provider is one supported aggregator (reference data)
type Provider struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// Institution is a bank, broker or exchange as known to one provider
type Institution struct {
	ID         int64  `json:"id"`
	ProviderID int64  `json:"providerId"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Logo       string `json:"logo,omitempty"`
	Country    string `json:"country,omitempty"`
}

// ProviderConnection is the link between a local user and a provider.
// Secret is the vendor credential for the user and is stored encrypted.
type ProviderConnection struct {
	ID             int64     `json:"id"`
	ProviderID     int64     `json:"providerId"`
	ProviderName   string    `json:"provider"`
	UserID         string    `json:"userId"`
	ExternalUserID string    `json:"-"`
	Secret         string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// InstitutionConnection is one active link to an institution through a provider
type InstitutionConnection struct {
	ID                   int64     `json:"id"`
	ProviderConnectionID int64     `json:"providerConnectionId"`
	InstitutionID        int64     `json:"institutionId"`
	InstitutionRef       string    `json:"institutionRef"`
	InstitutionName      string    `json:"institutionName"`
	ProviderName         string    `json:"provider"`
	UserID               string    `json:"userId"`
	ConnectionID         string    `json:"connectionId"`
	Credential           string    `json:"-"`
	Broken               bool      `json:"broken"`
	BrokenReason         string    `json:"brokenReason,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Credentials builds the adapter credentials for this connection
func (ic *InstitutionConnection) Credentials(pc *ProviderConnection) provider.Credentials {
	return provider.Credentials{
		UserID:       pc.UserID,
		Secret:       pc.Secret,
		ConnectionID: ic.ConnectionID,
		AccessToken:  ic.Credential,
	}
}

// AccountConnection links a vendor account id to an institution connection
type AccountConnection struct {
	ID                      int64  `json:"id"`
	AccountID               string `json:"accountId"`
	InstitutionConnectionID int64  `json:"institutionConnectionId"`
}

// UpsertProviderConnectionParams holds the fields written on registration
type UpsertProviderConnectionParams struct {
	ProviderID     int64
	UserID         string
	ExternalUserID string
	Secret         string
}

// UpsertInstitutionParams identifies an institution by (provider, external id)
type UpsertInstitutionParams struct {
	ProviderID int64
	ExternalID string
	Name       string
	Logo       string
	Country    string
}

// UpsertInstitutionConnectionParams holds the fields written when a connection is added or reconnected
type UpsertInstitutionConnectionParams struct {
	ProviderConnectionID int64
	InstitutionID        int64
	ConnectionID         string
	Credential           string
}

// Validate validates the upsert parameters
func (p UpsertInstitutionConnectionParams) Validate() error {
	if p.ProviderConnectionID <= 0 {
		return errors.New("provider connection ID is required")
	}
	if p.InstitutionID <= 0 {
		return errors.New("institution ID is required")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required")
	}
	return nil
}
