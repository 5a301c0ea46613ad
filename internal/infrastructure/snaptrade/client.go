// Package snaptrade adapts the SnapTrade brokerage aggregation API.
package snaptrade

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/vendorhttp"
)

const (
	Name           = "snaptrade"
	DefaultBaseURL = "https://api.snaptrade.com/api/v1"

	activitiesPageSize = 1000
)

// Config holds SnapTrade partner credentials
type Config struct {
	ClientID      string
	ConsumerKey   string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements provider.Adapter and every optional capability SnapTrade offers
type Client struct {
	api           *vendorhttp.Client
	clientID      string
	consumerKey   []byte
	webhookSecret string
	now           func() time.Time
}

var (
	_ provider.Adapter             = (*Client)(nil)
	_ provider.UserRegistrar       = (*Client)(nil)
	_ provider.ConnectionRefresher = (*Client)(nil)
	_ provider.ConnectionDescriber = (*Client)(nil)
	_ provider.WebhookParser       = (*Client)(nil)
	_ provider.HoldingsReporter    = (*Client)(nil)
)

// New creates a SnapTrade client
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		clientID:      cfg.ClientID,
		consumerKey:   []byte(cfg.ConsumerKey),
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
	}
	c.api = vendorhttp.New(vendorhttp.Config{
		Provider:      Name,
		BaseURL:       baseURL,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Signer:        c.sign,
	})
	return c
}

// sign adds clientId and timestamp to the query and sets the Signature header:
// base64 HMAC-SHA256 of {"content","path","query"} with the consumer key
func (c *Client) sign(req *http.Request, body []byte) error {
	q := req.URL.Query()
	q.Set("clientId", c.clientID)
	q.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	req.URL.RawQuery = q.Encode()

	sig, err := requestSignature(c.consumerKey, req.URL.Path, req.URL.RawQuery, body)
	if err != nil {
		return err
	}
	req.Header.Set("Signature", sig)
	return nil
}

func requestSignature(key []byte, path, query string, body []byte) (string, error) {
	var content any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &content); err != nil {
			return "", fmt.Errorf("failed to canonicalize body: %w", err)
		}
	}
	// Map keys marshal sorted, which is the canonical form SnapTrade expects
	payload, err := json.Marshal(map[string]any{
		"content": content,
		"path":    path,
		"query":   query,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func userQuery(userID, secret string) url.Values {
	return url.Values{"userId": {userID}, "userSecret": {secret}}
}

func (c *Client) Name() string { return Name }

// RegisterUser registers the local user id with SnapTrade and returns the user secret
func (c *Client) RegisterUser(ctx context.Context, userID string) (*provider.Registration, error) {
	var resp registerResponse
	if err := c.api.Post(ctx, "/snapTrade/registerUser", registerRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	if resp.UserSecret == "" {
		return nil, provider.NewError(Name, 0, errors.New("registration carried no user secret"))
	}
	return &provider.Registration{ExternalUserID: resp.UserID, Secret: resp.UserSecret}, nil
}

// DeregisterUser deletes the SnapTrade user and all of its brokerage authorizations
func (c *Client) DeregisterUser(ctx context.Context, userID, secret string) error {
	if secret == "" {
		return nil
	}
	err := c.api.Do(ctx, vendorhttp.Request{
		Method: http.MethodDelete,
		Path:   "/snapTrade/deleteUser",
		Query:  url.Values{"userId": {userID}},
	}, nil)
	var pe *provider.ProviderError
	if errors.As(err, &pe) && pe.IsNotFound() {
		log.Printf("User %s: SnapTrade user already deleted", userID)
		return nil
	}
	return err
}

// ConnectURL returns a Connection Portal link for a brokerage, or for repairing an authorization
func (c *Client) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	body := loginRequest{
		Broker:            req.InstitutionRef,
		ImmediateRedirect: true,
		CustomRedirect:    req.RedirectURL,
		Reconnect:         req.ReconnectOf,
		ConnectionType:    "read",
	}

	var resp loginResponse
	err := c.api.Do(ctx, vendorhttp.Request{
		Method: http.MethodPost,
		Path:   "/snapTrade/login",
		Query:  userQuery(req.UserID, req.Secret),
		Body:   body,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RedirectURI == "" {
		return "", provider.NewError(Name, 0, errors.New("login carried no redirect uri"))
	}
	return resp.RedirectURI, nil
}

// RefreshConnection triggers a holdings refresh; completion arrives as a webhook
func (c *Client) RefreshConnection(ctx context.Context, creds provider.Credentials) error {
	return c.api.Do(ctx, vendorhttp.Request{
		Method: http.MethodPost,
		Path:   "/authorizations/" + url.PathEscape(creds.ConnectionID) + "/refresh",
		Query:  userQuery(creds.UserID, creds.Secret),
	}, nil)
}

// DescribeConnection resolves the brokerage behind an authorization id
func (c *Client) DescribeConnection(ctx context.Context, creds provider.Credentials) (*provider.Connection, error) {
	var auth authorization
	err := c.api.Get(ctx, "/authorizations/"+url.PathEscape(creds.ConnectionID), userQuery(creds.UserID, creds.Secret), &auth)
	if err != nil {
		return nil, err
	}
	return &provider.Connection{
		ConnectionID:    auth.ID,
		InstitutionRef:  auth.Brokerage.Slug,
		InstitutionName: provider.CleanText(auth.Brokerage.Name),
	}, nil
}

// Accounts lists the user's brokerage accounts, narrowed to one authorization when
// creds.ConnectionID is set
func (c *Client) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	var raw []accountResource
	if err := c.api.Get(ctx, "/accounts", userQuery(creds.UserID, creds.Secret), &raw); err != nil {
		return nil, err
	}

	accounts := make([]provider.Account, 0, len(raw))
	for _, a := range raw {
		if creds.ConnectionID != "" && a.BrokerageAuthorization != creds.ConnectionID {
			continue
		}
		accounts = append(accounts, a.normalize())
	}
	return accounts, nil
}

// Transactions lists account activities (trades, dividends, transfers) since a date
func (c *Client) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	raw, err := provider.CollectPages(ctx, activitiesPageSize, func(ctx context.Context, cursor string) ([]activity, string, error) {
		offset := 0
		if cursor != "" {
			offset, _ = strconv.Atoi(cursor)
		}
		q := userQuery(creds.UserID, creds.Secret)
		q.Set("startDate", since.Format(time.DateOnly))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(activitiesPageSize))

		var page activitiesPage
		if err := c.api.Get(ctx, "/accounts/"+url.PathEscape(accountID)+"/activities", q, &page); err != nil {
			return nil, "", err
		}
		next := ""
		if len(page.Data) > 0 {
			next = strconv.Itoa(offset + len(page.Data))
		}
		return page.Data, next, nil
	})
	if err != nil {
		return nil, err
	}

	txs := make([]provider.Transaction, 0, len(raw))
	for _, a := range raw {
		tx, err := a.normalize()
		if err != nil {
			return nil, provider.NewError(Name, 0, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Holdings lists the account's open positions
func (c *Client) Holdings(ctx context.Context, creds provider.Credentials, accountID string) ([]provider.Holding, error) {
	var raw []position
	if err := c.api.Get(ctx, "/accounts/"+url.PathEscape(accountID)+"/positions", userQuery(creds.UserID, creds.Secret), &raw); err != nil {
		return nil, err
	}

	holdings := make([]provider.Holding, 0, len(raw))
	for _, p := range raw {
		h, ok := p.normalize()
		if !ok {
			continue
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}
