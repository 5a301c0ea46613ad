// Package teller adapts the Teller bank account API.
package teller

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/vendorhttp"
)

const (
	Name              = "teller"
	DefaultBaseURL    = "https://api.teller.io"
	DefaultConnectURL = "https://teller.io/connect"

	transactionsPageSize = 250
)

// Config holds Teller application credentials
type Config struct {
	ApplicationID string
	// Certificate is the client certificate Teller requires on every API call.
	Certificate   *tls.Certificate
	SigningSecret string
	Environment   string
	BaseURL       string
	ConnectURL    string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements provider.Adapter, ConnectionCompleter and WebhookParser for Teller
type Client struct {
	api           *vendorhttp.Client
	applicationID string
	environment   string
	connectURL    string
	signingSecret []byte
	now           func() time.Time
}

var (
	_ provider.Adapter             = (*Client)(nil)
	_ provider.ConnectionCompleter = (*Client)(nil)
	_ provider.WebhookParser       = (*Client)(nil)
)

// LoadCertificate reads the mTLS certificate and key issued by Teller
func LoadCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load teller certificate: %w", err)
	}
	return &cert, nil
}

// New creates a Teller client
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	connectURL := cfg.ConnectURL
	if connectURL == "" {
		connectURL = DefaultConnectURL
	}
	env := cfg.Environment
	if env == "" {
		env = "sandbox"
	}

	var tlsConfig *tls.Config
	if cfg.Certificate != nil {
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{*cfg.Certificate},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &Client{
		api: vendorhttp.New(vendorhttp.Config{
			Provider:      Name,
			BaseURL:       baseURL,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			TLSConfig:     tlsConfig,
		}),
		applicationID: cfg.ApplicationID,
		environment:   env,
		connectURL:    connectURL,
		signingSecret: []byte(cfg.SigningSecret),
		now:           time.Now,
	}
}

func (c *Client) Name() string { return Name }

// basicAuth authenticates as the enrollment: access token as user, empty password
func basicAuth(accessToken string) http.Header {
	cred := base64.StdEncoding.EncodeToString([]byte(accessToken + ":"))
	return http.Header{"Authorization": {"Basic " + cred}}
}

func (c *Client) get(ctx context.Context, accessToken, path string, query url.Values, out any) error {
	if accessToken == "" {
		return provider.NewError(Name, http.StatusUnauthorized, errors.New("enrollment access token missing"))
	}
	return c.api.Do(ctx, vendorhttp.Request{Path: path, Query: query, Header: basicAuth(accessToken)}, out)
}

// ConnectURL returns the Teller Connect link; reconnect reopens the existing enrollment
func (c *Client) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	q := url.Values{"environment": {c.environment}}
	if req.InstitutionRef != "" {
		q.Set("institution", req.InstitutionRef)
	}
	if req.ReconnectOf != "" {
		q.Set("enrollment_id", req.ReconnectOf)
	}
	if req.RedirectURL != "" {
		q.Set("redirect_uri", req.RedirectURL)
	}
	return c.connectURL + "/" + url.PathEscape(c.applicationID) + "?" + q.Encode(), nil
}

// CompleteConnection takes the enrollment Teller Connect handed to the client.
// The access token is returned as the connection credential.
func (c *Client) CompleteConnection(ctx context.Context, req provider.CompleteRequest) (*provider.Connection, error) {
	token := req.Params["access_token"]
	enrollmentID := req.Params["enrollment_id"]
	if token == "" || enrollmentID == "" {
		return nil, fmt.Errorf("%w: access_token and enrollment_id are required", provider.ErrInvalidParams)
	}

	conn := &provider.Connection{
		ConnectionID:         enrollmentID,
		InstitutionRef:       req.Params["institution_id"],
		InstitutionName:      provider.CleanText(req.Params["institution_name"]),
		Credential:           token,
		ReplacesConnectionID: req.Params["reconnect"],
	}

	if conn.InstitutionRef == "" {
		var raw []accountResource
		if err := c.get(ctx, token, "/accounts", nil, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, provider.NewError(Name, 0, errors.New("enrollment has no accounts"))
		}
		conn.InstitutionRef = raw[0].Institution.ID
		conn.InstitutionName = provider.CleanText(raw[0].Institution.Name)
	}
	return conn, nil
}

// Accounts lists the enrollment's accounts with their ledger balances
func (c *Client) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	var raw []accountResource
	if err := c.get(ctx, creds.AccessToken, "/accounts", nil, &raw); err != nil {
		return nil, err
	}

	accounts := make([]provider.Account, 0, len(raw))
	for _, a := range raw {
		if creds.ConnectionID != "" && a.EnrollmentID != "" && a.EnrollmentID != creds.ConnectionID {
			continue
		}
		var bal balances
		if a.Status == "open" {
			if err := c.get(ctx, creds.AccessToken, "/accounts/"+url.PathEscape(a.ID)+"/balances", nil, &bal); err != nil {
				return nil, err
			}
		}
		accounts = append(accounts, a.normalize(bal))
	}
	return accounts, nil
}

// Transactions pages backwards from the newest transaction until one predates since
func (c *Client) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	since = provider.StartOfDay(since)
	// Liability amounts are flipped so that positive always means an inflow to the account value
	liability, err := c.isCredit(ctx, creds.AccessToken, accountID)
	if err != nil {
		return nil, err
	}

	var txs []provider.Transaction
	_, err = provider.CollectPages(ctx, transactionsPageSize, func(ctx context.Context, cursor string) ([]transactionResource, string, error) {
		q := url.Values{"count": {strconv.Itoa(transactionsPageSize)}}
		if cursor != "" {
			q.Set("from_id", cursor)
		}
		var page []transactionResource
		if err := c.get(ctx, creds.AccessToken, "/accounts/"+url.PathEscape(accountID)+"/transactions", q, &page); err != nil {
			return nil, "", err
		}

		reachedSince := false
		for _, t := range page {
			tx, err := t.normalize(liability)
			if err != nil {
				return nil, "", provider.NewError(Name, 0, err)
			}
			if tx.Date.Before(since) {
				reachedSince = true
				continue
			}
			txs = append(txs, tx)
		}

		next := ""
		if len(page) > 0 && !reachedSince {
			next = page[len(page)-1].ID
		}
		return page, next, nil
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) isCredit(ctx context.Context, accessToken, accountID string) (bool, error) {
	var a accountResource
	if err := c.get(ctx, accessToken, "/accounts/"+url.PathEscape(accountID), nil, &a); err != nil {
		return false, err
	}
	return a.Type == "credit", nil
}
