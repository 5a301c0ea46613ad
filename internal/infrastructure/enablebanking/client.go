// Package enablebanking adapts the Enable Banking open banking API (PSD2 AIS).
package enablebanking

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/vendorhttp"
)

const (
	Name           = "enablebanking"
	DefaultBaseURL = "https://api.enablebanking.com"

	// consentValidity is how long the bank consent requested on connect lasts
	consentValidity = 90 * 24 * time.Hour
)

// Config holds Enable Banking application credentials
type Config struct {
	AppID      string
	PrivateKey *rsa.PrivateKey
	// StateSecret signs the connect state carried through the bank redirect.
	StateSecret   string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements provider.Adapter and ConnectionCompleter for Enable Banking.
// Enable Banking is polled and keeps no vendor-side user.
type Client struct {
	api         *vendorhttp.Client
	appID       string
	privateKey  *rsa.PrivateKey
	stateSecret []byte
	cache       *gocache.Cache
	now         func() time.Time
}

var (
	_ provider.Adapter             = (*Client)(nil)
	_ provider.ConnectionCompleter = (*Client)(nil)
)

// New creates an Enable Banking client
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		appID:       cfg.AppID,
		privateKey:  cfg.PrivateKey,
		stateSecret: []byte(cfg.StateSecret),
		cache:       gocache.New(appTokenLifetime, 10*time.Minute),
		now:         time.Now,
	}
	c.api = vendorhttp.New(vendorhttp.Config{
		Provider:      Name,
		BaseURL:       baseURL,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Signer: func(req *http.Request, body []byte) error {
			token, err := c.appToken()
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		},
	})
	return c
}

func (c *Client) Name() string { return Name }

// InstitutionRef is how an ASPSP is identified: "name|country"
func InstitutionRef(name, country string) string {
	return name + "|" + strings.ToUpper(country)
}

func splitInstitutionRef(ref string) (name, country string, err error) {
	name, country, ok := strings.Cut(ref, "|")
	if !ok || name == "" || len(country) != 2 {
		return "", "", fmt.Errorf("%w: institution must be \"name|country\", got %q", provider.ErrInvalidParams, ref)
	}
	return name, strings.ToUpper(country), nil
}

// ConnectURL starts a bank authorization. The signed state carries the user,
// the institution and the session being repaired back to CompleteConnection.
func (c *Client) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	name, country, err := splitInstitutionRef(req.InstitutionRef)
	if err != nil {
		return "", err
	}

	state, err := c.signState(req.UserID, req.InstitutionRef, req.ReconnectOf)
	if err != nil {
		return "", fmt.Errorf("failed to sign connect state: %w", err)
	}

	body := authRequest{
		Access:      access{ValidUntil: c.now().Add(consentValidity).UTC().Format(time.RFC3339)},
		ASPSP:       aspsp{Name: name, Country: country},
		State:       state,
		RedirectURL: req.RedirectURL,
		PSUType:     "personal",
	}

	var resp authResponse
	if err := c.api.Post(ctx, "/auth", body, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", provider.NewError(Name, 0, errors.New("auth response carried no url"))
	}
	return resp.URL, nil
}

// CompleteConnection exchanges the authorization code for a session. The
// session id becomes the connection id.
func (c *Client) CompleteConnection(ctx context.Context, req provider.CompleteRequest) (*provider.Connection, error) {
	if e := req.Params["error"]; e != "" {
		return nil, provider.NewError(Name, http.StatusUnauthorized, fmt.Errorf("authorization failed: %s", e))
	}
	code := req.Params["code"]
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", provider.ErrInvalidParams)
	}
	claims, err := c.parseState(req.Params["state"], req.UserID)
	if err != nil {
		return nil, err
	}

	var session sessionResponse
	if err := c.api.Post(ctx, "/sessions", sessionRequest{Code: code}, &session); err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, provider.NewError(Name, 0, errors.New("session response carried no id"))
	}

	ref := claims.Institution
	name := session.ASPSP.Name
	if name != "" {
		ref = InstitutionRef(name, session.ASPSP.Country)
	} else {
		name, _, _ = strings.Cut(ref, "|")
	}

	return &provider.Connection{
		ConnectionID:         session.SessionID,
		InstitutionRef:       ref,
		InstitutionName:      provider.CleanText(name),
		ReplacesConnectionID: claims.Reconnect,
	}, nil
}

// Accounts returns the accounts authorized in the session with their balances
func (c *Client) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	var session sessionResponse
	if err := c.api.Get(ctx, "/sessions/"+url.PathEscape(creds.ConnectionID), nil, &session); err != nil {
		return nil, err
	}

	accounts := make([]provider.Account, 0, len(session.Accounts))
	for _, uid := range session.Accounts {
		var details accountDetails
		if err := c.api.Get(ctx, "/accounts/"+url.PathEscape(uid)+"/details", nil, &details); err != nil {
			return nil, err
		}
		var balances balancesResponse
		if err := c.api.Get(ctx, "/accounts/"+url.PathEscape(uid)+"/balances", nil, &balances); err != nil {
			return nil, err
		}
		if details.UID == "" {
			details.UID = uid
		}
		accounts = append(accounts, details.normalize(creds.ConnectionID, balances.preferred()))
	}
	return accounts, nil
}

// Transactions walks the account's transactions from since using continuation keys
func (c *Client) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	raw, err := provider.CollectPages(ctx, 0, func(ctx context.Context, cursor string) ([]transactionResource, string, error) {
		q := url.Values{"date_from": {since.Format(time.DateOnly)}}
		if cursor != "" {
			q.Set("continuation_key", cursor)
		}
		var page transactionsResponse
		if err := c.api.Get(ctx, "/accounts/"+url.PathEscape(accountID)+"/transactions", q, &page); err != nil {
			return nil, "", err
		}
		return page.Transactions, page.ContinuationKey, nil
	})
	if err != nil {
		return nil, err
	}

	txs := make([]provider.Transaction, 0, len(raw))
	for _, t := range raw {
		tx, err := t.normalize()
		if err != nil {
			return nil, provider.NewError(Name, 0, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
