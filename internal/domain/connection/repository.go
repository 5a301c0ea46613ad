package connection

import "context"

// Repository defines data access for providers, institutions and connections.
// Upserts are keyed on the table's natural unique key.
type Repository interface {
	GetProviderByName(ctx context.Context, name string) (*Provider, error)

	GetProviderConnection(ctx context.Context, providerID int64, userID string) (*ProviderConnection, error)
	GetProviderConnectionByExternalUser(ctx context.Context, providerID int64, externalUserID string) (*ProviderConnection, error)
	UpsertProviderConnection(ctx context.Context, params UpsertProviderConnectionParams) (*ProviderConnection, error)
	// DeleteProviderConnection detaches the user's linked accounts and removes the
	// provider connection with its institution connections.
	DeleteProviderConnection(ctx context.Context, id int64) error

	GetInstitution(ctx context.Context, providerID int64, externalID string) (*Institution, error)
	UpsertInstitution(ctx context.Context, params UpsertInstitutionParams) (*Institution, error)

	GetInstitutionConnection(ctx context.Context, userID string, institutionID int64) (*InstitutionConnection, error)
	GetInstitutionConnectionByID(ctx context.Context, id int64) (*InstitutionConnection, error)
	FindInstitutionConnection(ctx context.Context, providerConnectionID int64, connectionID string) (*InstitutionConnection, error)
	// FindInstitutionConnectionByVendorID looks a connection up without knowing its user.
	FindInstitutionConnectionByVendorID(ctx context.Context, providerID int64, connectionID string) (*InstitutionConnection, error)
	ListInstitutionConnections(ctx context.Context, providerConnectionID int64) ([]*InstitutionConnection, error)
	ListInstitutionConnectionsByProvider(ctx context.Context, providerID int64) ([]*InstitutionConnection, error)
	UpsertInstitutionConnection(ctx context.Context, params UpsertInstitutionConnectionParams) (*InstitutionConnection, error)
	SetBroken(ctx context.Context, id int64, broken bool, reason string) error
	// DeleteInstitutionConnection detaches linked accounts and removes the row.
	DeleteInstitutionConnection(ctx context.Context, id int64) error

	GetAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error)
	UpsertAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error)
	DeleteAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) error
}
