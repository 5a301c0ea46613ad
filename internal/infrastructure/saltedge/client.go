// Package saltedge adapts the Salt Edge Account Information API (v6).
package saltedge

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/vendorhttp"
)

const (
	Name           = "saltedge"
	DefaultBaseURL = "https://www.saltedge.com/api/v6"
)

// Config holds Salt Edge application credentials
type Config struct {
	AppID         string
	Secret        string
	PublicKey     *rsa.PublicKey
	CallbackURL   string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements provider.Adapter, UserRegistrar, ConnectionRefresher,
// ConnectionDescriber and WebhookParser for Salt Edge
type Client struct {
	api         *vendorhttp.Client
	publicKey   *rsa.PublicKey
	callbackURL string
}

var (
	_ provider.Adapter             = (*Client)(nil)
	_ provider.UserRegistrar       = (*Client)(nil)
	_ provider.ConnectionRefresher = (*Client)(nil)
	_ provider.ConnectionDescriber = (*Client)(nil)
	_ provider.WebhookParser       = (*Client)(nil)
)

// New creates a Salt Edge client
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	appID, secret := cfg.AppID, cfg.Secret
	return &Client{
		api: vendorhttp.New(vendorhttp.Config{
			Provider:      Name,
			BaseURL:       baseURL,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			Signer: func(req *http.Request, body []byte) error {
				req.Header.Set("App-id", appID)
				req.Header.Set("Secret", secret)
				return nil
			},
		}),
		publicKey:   cfg.PublicKey,
		callbackURL: cfg.CallbackURL,
	}
}

// LoadPublicKey reads the PEM-encoded key Salt Edge signs callbacks with
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt edge public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("salt edge public key is not PEM encoded")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse salt edge public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("salt edge public key is not an RSA key")
	}
	return rsaKey, nil
}

func (c *Client) Name() string { return Name }

// RegisterUser creates a Salt Edge customer identified by the local user id.
// The customer id doubles as the stored secret.
func (c *Client) RegisterUser(ctx context.Context, userID string) (*provider.Registration, error) {
	var resp envelope[customer]
	err := c.api.Post(ctx, "/customers", envelope[customerRequest]{Data: customerRequest{Identifier: userID}}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data.CustomerID == "" {
		return nil, provider.NewError(Name, 0, errors.New("customer response carried no id"))
	}
	log.Printf("User %s: Salt Edge customer %s created", userID, resp.Data.CustomerID)
	return &provider.Registration{ExternalUserID: resp.Data.CustomerID, Secret: resp.Data.CustomerID}, nil
}

// DeregisterUser removes the customer and with it every connection on Salt Edge's side
func (c *Client) DeregisterUser(ctx context.Context, userID, secret string) error {
	if secret == "" {
		return nil
	}
	err := c.api.Do(ctx, vendorhttp.Request{Method: http.MethodDelete, Path: "/customers/" + url.PathEscape(secret)}, nil)
	var pe *provider.ProviderError
	if errors.As(err, &pe) && pe.IsNotFound() {
		log.Printf("User %s: Salt Edge customer %s already gone", userID, secret)
		return nil
	}
	return err
}

// ConnectURL starts a Salt Edge widget session, or a reconnect when ReconnectOf is set
func (c *Client) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	if req.Secret == "" {
		return "", provider.NewError(Name, 0, errors.New("customer id is required"))
	}

	body := connectRequest{
		Consent: consent{Scopes: []string{"accounts", "transactions"}},
		Attempt: attempt{ReturnTo: req.RedirectURL, FetchScopes: []string{"accounts", "transactions"}},
	}

	path := "/connections/connect"
	if req.ReconnectOf != "" {
		path = "/connections/" + url.PathEscape(req.ReconnectOf) + "/reconnect"
	} else {
		body.CustomerID = req.Secret
		body.ProviderCode = req.InstitutionRef
	}

	var resp envelope[connectSession]
	if err := c.api.Post(ctx, path, envelope[connectRequest]{Data: body}, &resp); err != nil {
		return "", err
	}
	if resp.Data.ConnectURL == "" {
		return "", provider.NewError(Name, 0, errors.New("connect session carried no url"))
	}
	return resp.Data.ConnectURL, nil
}

// RefreshConnection asks Salt Edge to fetch fresh data; results arrive by callback
func (c *Client) RefreshConnection(ctx context.Context, creds provider.Credentials) error {
	body := envelope[refreshRequest]{Data: refreshRequest{Attempt: attempt{FetchScopes: []string{"accounts", "transactions"}}}}
	return c.api.Post(ctx, "/connections/"+url.PathEscape(creds.ConnectionID)+"/refresh", body, nil)
}

// DescribeConnection returns the institution behind a connection id
func (c *Client) DescribeConnection(ctx context.Context, creds provider.Credentials) (*provider.Connection, error) {
	var resp envelope[connectionResource]
	if err := c.api.Get(ctx, "/connections/"+url.PathEscape(creds.ConnectionID), nil, &resp); err != nil {
		return nil, err
	}
	return &provider.Connection{
		ConnectionID:    resp.Data.ID,
		InstitutionRef:  resp.Data.ProviderCode,
		InstitutionName: provider.CleanText(resp.Data.ProviderName),
	}, nil
}

// Accounts lists every account of a connection
func (c *Client) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	raw, err := provider.CollectPages(ctx, 0, func(ctx context.Context, cursor string) ([]accountResource, string, error) {
		q := url.Values{"connection_id": {creds.ConnectionID}}
		if cursor != "" {
			q.Set("from_id", cursor)
		}
		var page listResponse[accountResource]
		if err := c.api.Get(ctx, "/accounts", q, &page); err != nil {
			return nil, "", err
		}
		return page.Data, page.Meta.NextID, nil
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]provider.Account, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, a.normalize())
	}
	return accounts, nil
}

// Transactions lists posted and pending transactions made on or after since
func (c *Client) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	since = provider.StartOfDay(since)
	raw, err := provider.CollectPages(ctx, 0, func(ctx context.Context, cursor string) ([]transactionResource, string, error) {
		q := url.Values{
			"connection_id": {creds.ConnectionID},
			"account_id":    {accountID},
			"from_date":     {since.Format(time.DateOnly)},
		}
		if cursor != "" {
			q.Set("from_id", cursor)
		}
		var page listResponse[transactionResource]
		if err := c.api.Get(ctx, "/transactions", q, &page); err != nil {
			return nil, "", err
		}
		return page.Data, page.Meta.NextID, nil
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
		if tx.Date.Before(since) {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
