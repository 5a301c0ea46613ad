package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"finlink/internal/domain/provider"
)

// Registry owns the (user, provider) and (user, institution) mappings and is
// the only place that mints vendor-side users.
type Registry struct {
	repo         Repository
	adapters     provider.Directory
	institutions *ristretto.Cache
	group        singleflight.Group
}

// NewRegistry creates a new connection registry
func NewRegistry(repo Repository, adapters provider.Directory) (*Registry, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     10000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize institution cache: %w", err)
	}
	return &Registry{repo: repo, adapters: adapters, institutions: cache}, nil
}

// Close releases the institution cache
func (r *Registry) Close() {
	r.institutions.Close()
}

// Provider looks up provider reference data by name
func (r *Registry) Provider(ctx context.Context, name string) (*Provider, error) {
	return r.repo.GetProviderByName(ctx, strings.ToLower(name))
}

// GetProviderConnection returns the stored (user, provider) row
func (r *Registry) GetProviderConnection(ctx context.Context, userID, providerName string) (*ProviderConnection, error) {
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return r.repo.GetProviderConnection(ctx, p.ID, userID)
}

// GetOrCreateProviderConnection returns the user's provider connection, registering
// the user with the vendor first when none exists. Concurrent callers for the same
// pair share one registration.
func (r *Registry) GetOrCreateProviderConnection(ctx context.Context, userID, providerName string) (*ProviderConnection, error) {
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(p.Name+"|"+userID, func() (interface{}, error) {
		pc, err := r.repo.GetProviderConnection(ctx, p.ID, userID)
		if err == nil {
			return pc, nil
		}
		if !errors.Is(err, ErrProviderConnectionNotFound) {
			return nil, err
		}

		reg, err := r.register(ctx, p.Name, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", provider.ErrRegistrationFailed, err)
		}

		pc, err = r.repo.UpsertProviderConnection(ctx, UpsertProviderConnectionParams{
			ProviderID:     p.ID,
			UserID:         userID,
			ExternalUserID: reg.ExternalUserID,
			Secret:         reg.Secret,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store provider connection: %w", err)
		}
		pc.ProviderName = p.Name
		log.Printf("User %s: registered with %s", userID, p.Name)
		return pc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderConnection), nil
}

func (r *Registry) register(ctx context.Context, providerName, userID string) (*provider.Registration, error) {
	adapter, err := r.adapters.Get(providerName)
	if err != nil {
		return nil, err
	}
	registrar, ok := adapter.(provider.UserRegistrar)
	if !ok {
		return &provider.Registration{ExternalUserID: userID}, nil
	}
	return registrar.RegisterUser(ctx, userID)
}

// ResolveUser maps a vendor user id back to the local provider connection
func (r *Registry) ResolveUser(ctx context.Context, providerName, externalUserID string) (*ProviderConnection, error) {
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return r.repo.GetProviderConnectionByExternalUser(ctx, p.ID, externalUserID)
}

// ResolveInstitution returns the institution row for a vendor reference, creating it on first sight
func (r *Registry) ResolveInstitution(ctx context.Context, providerName, externalRef, name string) (*Institution, error) {
	if externalRef == "" {
		return nil, fmt.Errorf("%w: empty institution reference", ErrInstitutionNotFound)
	}
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d|%s", p.ID, externalRef)
	if v, ok := r.institutions.Get(key); ok {
		return v.(*Institution), nil
	}

	inst, err := r.repo.GetInstitution(ctx, p.ID, externalRef)
	if errors.Is(err, ErrInstitutionNotFound) {
		if name == "" {
			name = externalRef
		}
		inst, err = r.repo.UpsertInstitution(ctx, UpsertInstitutionParams{
			ProviderID: p.ID,
			ExternalID: externalRef,
			Name:       name,
		})
	}
	if err != nil {
		return nil, err
	}

	r.institutions.Set(key, inst, 1)
	return inst, nil
}

// LookupInstitution returns a known institution without creating it
func (r *Registry) LookupInstitution(ctx context.Context, providerName, externalRef string) (*Institution, error) {
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return r.repo.GetInstitution(ctx, p.ID, externalRef)
}

// GetInstitutionConnection returns the user's connection to an institution
func (r *Registry) GetInstitutionConnection(ctx context.Context, userID string, institutionID int64) (*InstitutionConnection, error) {
	return r.repo.GetInstitutionConnection(ctx, userID, institutionID)
}

// GetInstitutionConnectionByID returns an institution connection by primary key
func (r *Registry) GetInstitutionConnectionByID(ctx context.Context, id int64) (*InstitutionConnection, error) {
	return r.repo.GetInstitutionConnectionByID(ctx, id)
}

// FindInstitutionConnection looks up a connection by the vendor's connection id
func (r *Registry) FindInstitutionConnection(ctx context.Context, providerName, userID, connectionID string) (*InstitutionConnection, error) {
	if connectionID == "" {
		return nil, ErrInstitutionConnectionNotFound
	}
	pc, err := r.GetProviderConnection(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, ErrProviderConnectionNotFound) {
			return nil, ErrInstitutionConnectionNotFound
		}
		return nil, err
	}
	return r.repo.FindInstitutionConnection(ctx, pc.ID, connectionID)
}

// LookupConnection finds a connection by vendor id alone, for callbacks that carry no user
func (r *Registry) LookupConnection(ctx context.Context, providerName, connectionID string) (*InstitutionConnection, error) {
	if connectionID == "" {
		return nil, ErrInstitutionConnectionNotFound
	}
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return r.repo.FindInstitutionConnectionByVendorID(ctx, p.ID, connectionID)
}

// FindInstitutionConnectionByRef looks up a user's connection by the vendor institution reference
func (r *Registry) FindInstitutionConnectionByRef(ctx context.Context, providerName, userID, institutionRef string) (*InstitutionConnection, error) {
	if institutionRef == "" {
		return nil, ErrInstitutionConnectionNotFound
	}
	inst, err := r.LookupInstitution(ctx, providerName, institutionRef)
	if err != nil {
		if errors.Is(err, ErrInstitutionNotFound) {
			return nil, ErrInstitutionConnectionNotFound
		}
		return nil, err
	}
	return r.repo.GetInstitutionConnection(ctx, userID, inst.ID)
}

// ListInstitutionConnections returns every connection held through a provider
func (r *Registry) ListInstitutionConnections(ctx context.Context, providerName string) ([]*InstitutionConnection, error) {
	p, err := r.Provider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return r.repo.ListInstitutionConnectionsByProvider(ctx, p.ID)
}

// ListUserConnections returns the user's connections through one provider
func (r *Registry) ListUserConnections(ctx context.Context, userID, providerName string) ([]*InstitutionConnection, error) {
	pc, err := r.GetProviderConnection(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, ErrProviderConnectionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.repo.ListInstitutionConnections(ctx, pc.ID)
}

// UpsertInstitutionConnection writes the connection keyed on (provider connection, institution),
// so a reconnect rewrites the existing row and clears the broken flag.
func (r *Registry) UpsertInstitutionConnection(ctx context.Context, params UpsertInstitutionConnectionParams) (*InstitutionConnection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return r.repo.UpsertInstitutionConnection(ctx, params)
}

// SetBroken flags or clears a connection as needing user action
func (r *Registry) SetBroken(ctx context.Context, id int64, broken bool, reason string) error {
	return r.repo.SetBroken(ctx, id, broken, reason)
}

// DeleteInstitutionConnection removes a connection, keeping its accounts as unlinked
func (r *Registry) DeleteInstitutionConnection(ctx context.Context, id int64) error {
	return r.repo.DeleteInstitutionConnection(ctx, id)
}

// DeleteProviderConnection removes the user's provider link and every institution connection under it
func (r *Registry) DeleteProviderConnection(ctx context.Context, userID, providerName string) error {
	pc, err := r.GetProviderConnection(ctx, userID, providerName)
	if err != nil {
		return err
	}
	return r.repo.DeleteProviderConnection(ctx, pc.ID)
}

// Deregister removes the user from the vendor and deletes the local provider connection.
// Nothing happens when the user was never registered.
func (r *Registry) Deregister(ctx context.Context, userID, providerName string) error {
	pc, err := r.GetProviderConnection(ctx, userID, providerName)
	if errors.Is(err, ErrProviderConnectionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	adapter, err := r.adapters.Get(providerName)
	if err != nil {
		return err
	}
	if registrar, ok := adapter.(provider.UserRegistrar); ok {
		if err := registrar.DeregisterUser(ctx, userID, pc.Secret); err != nil {
			return fmt.Errorf("failed to deregister user: %w", err)
		}
	}

	if err := r.repo.DeleteProviderConnection(ctx, pc.ID); err != nil {
		return fmt.Errorf("failed to delete provider connection: %w", err)
	}
	log.Printf("User %s: deregistered from %s", userID, providerName)
	return nil
}

// GetAccountConnection returns the link for a vendor account under a connection
func (r *Registry) GetAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error) {
	return r.repo.GetAccountConnection(ctx, accountID, institutionConnectionID)
}

// UpsertAccountConnection links a vendor account to a connection
func (r *Registry) UpsertAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) (*AccountConnection, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}
	return r.repo.UpsertAccountConnection(ctx, accountID, institutionConnectionID)
}

// DeleteAccountConnection unlinks a vendor account; the ledger account goes with it
func (r *Registry) DeleteAccountConnection(ctx context.Context, accountID string, institutionConnectionID int64) error {
	return r.repo.DeleteAccountConnection(ctx, accountID, institutionConnectionID)
}
