package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/refresh"
)

// ErrInvalidRequest is returned for connect requests missing an institution
var ErrInvalidRequest = errors.New("invalid connect request")

// ConnectParams is the user's request to link or repair an institution
type ConnectParams struct {
	UserID        string
	Provider      string
	InstitutionID string
	AccountID     string
	Reconnect     string
}

// Service runs the user-initiated side of a connection's life: connect,
// completion of redirect flows, on-demand refresh and deregistration.
type Service struct {
	registry    *connection.Registry
	engine      *reconcile.Engine
	sync        *refresh.Service
	adapters    provider.Directory
	redirectURL string
}

// NewService creates a new link service. redirectURL is where vendors send the user back to.
func NewService(registry *connection.Registry, engine *reconcile.Engine, sync *refresh.Service, adapters provider.Directory, redirectURL string) *Service {
	return &Service{
		registry:    registry,
		engine:      engine,
		sync:        sync,
		adapters:    adapters,
		redirectURL: redirectURL,
	}
}

// Connect returns the vendor URL that starts a connect or reconnect flow.
// The repair target is the explicit reconnect id, then the account id, then an
// existing broken connection to the same institution.
func (s *Service) Connect(ctx context.Context, params ConnectParams) (string, error) {
	adapter, err := s.adapters.Get(params.Provider)
	if err != nil {
		return "", err
	}
	if params.InstitutionID == "" && params.Reconnect == "" && params.AccountID == "" {
		return "", fmt.Errorf("%w: institution_id is required", ErrInvalidRequest)
	}

	pc, err := s.registry.GetOrCreateProviderConnection(ctx, params.UserID, params.Provider)
	if err != nil {
		return "", err
	}

	reconnectOf, err := s.reconnectTarget(ctx, params)
	if err != nil {
		return "", err
	}

	url, err := adapter.ConnectURL(ctx, provider.ConnectRequest{
		UserID:         params.UserID,
		Secret:         pc.Secret,
		InstitutionRef: params.InstitutionID,
		ReconnectOf:    reconnectOf,
		RedirectURL:    s.redirect(adapter.Name()),
	})
	if err != nil {
		return "", err
	}

	if reconnectOf != "" {
		log.Printf("User %s: %s reconnect started for %s", params.UserID, params.Provider, reconnectOf)
	}
	return url, nil
}

func (s *Service) reconnectTarget(ctx context.Context, params ConnectParams) (string, error) {
	for _, explicit := range []string{params.Reconnect, params.AccountID} {
		if explicit == "" {
			continue
		}
		ic, err := s.registry.FindInstitutionConnection(ctx, params.Provider, params.UserID, explicit)
		if err != nil {
			return "", err
		}
		return ic.ConnectionID, nil
	}

	if params.InstitutionID == "" {
		return "", nil
	}
	inst, err := s.registry.LookupInstitution(ctx, params.Provider, params.InstitutionID)
	if errors.Is(err, connection.ErrInstitutionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	ic, err := s.registry.GetInstitutionConnection(ctx, params.UserID, inst.ID)
	if errors.Is(err, connection.ErrInstitutionConnectionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if ic.Broken {
		return ic.ConnectionID, nil
	}
	return "", nil
}

func (s *Service) redirect(providerName string) string {
	if s.redirectURL == "" {
		return ""
	}
	return strings.TrimRight(s.redirectURL, "/") + "/" + providerName
}

// Complete finishes a redirect or client-side connect flow and imports the new connection
func (s *Service) Complete(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error) {
	adapter, err := s.adapters.Get(providerName)
	if err != nil {
		return nil, nil, err
	}
	completer, ok := adapter.(provider.ConnectionCompleter)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s has no completion step", provider.ErrUnsupported, providerName)
	}

	pc, err := s.registry.GetOrCreateProviderConnection(ctx, userID, providerName)
	if err != nil {
		return nil, nil, err
	}

	conn, err := completer.CompleteConnection(ctx, provider.CompleteRequest{
		UserID: userID,
		Secret: pc.Secret,
		Params: params,
	})
	if err != nil {
		return nil, nil, err
	}

	return s.engine.LinkConnection(ctx, adapter.Name(), userID, *conn)
}

// Refresh asks the vendor to refresh a connection, or pulls it directly when the
// vendor has no refresh call. Connections of other users are reported as not found.
func (s *Service) Refresh(ctx context.Context, userID, providerName string, institutionConnectionID int64) error {
	adapter, err := s.adapters.Get(providerName)
	if err != nil {
		return err
	}

	ic, err := s.registry.GetInstitutionConnectionByID(ctx, institutionConnectionID)
	if err != nil {
		return err
	}
	if ic.UserID != userID || !strings.EqualFold(ic.ProviderName, adapter.Name()) {
		return connection.ErrInstitutionConnectionNotFound
	}

	if refresher, ok := adapter.(provider.ConnectionRefresher); ok {
		pc, err := s.registry.GetProviderConnection(ctx, userID, providerName)
		if err != nil {
			return err
		}
		if err := refresher.RefreshConnection(ctx, ic.Credentials(pc)); err != nil {
			return err
		}
		log.Printf("User %s: %s refresh requested for connection %s", userID, providerName, ic.ConnectionID)
		return nil
	}

	result, err := s.sync.SyncConnection(ctx, ic)
	if err != nil {
		return err
	}
	log.Printf("User %s: %s connection %s synced: accounts=%d created=%d updated=%d",
		userID, providerName, ic.ConnectionID, result.Accounts, result.Created, result.Updated)
	return nil
}

// Deregister removes the user's registration with a provider
func (s *Service) Deregister(ctx context.Context, userID, providerName string) error {
	if _, err := s.adapters.Get(providerName); err != nil {
		return err
	}
	return s.registry.Deregister(ctx, userID, providerName)
}
