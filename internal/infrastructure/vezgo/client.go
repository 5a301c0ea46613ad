// Package vezgo adapts the Vezgo crypto account aggregation API.
package vezgo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/vendorhttp"
)

const (
	Name              = "vezgo"
	DefaultBaseURL    = "https://api.vezgo.com/v1"
	DefaultConnectURL = "https://connect.vezgo.com"

	transactionsPageSize = 100
	// Vezgo user tokens live 20 minutes; refresh a little early.
	tokenLifetime = 18 * time.Minute
)

// Config holds Vezgo team credentials
type Config struct {
	ClientID      string
	Secret        string
	BaseURL       string
	ConnectURL    string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements provider.Adapter, ConnectionRefresher, ConnectionCompleter
// and ConnectionDescriber for Vezgo. Vezgo is polled; it has no webhook parser.
type Client struct {
	api        *vendorhttp.Client
	clientID   string
	secret     string
	connectURL string
	// tokens holds the current *oauth2.Token per local user
	tokens *gocache.Cache
	mints  singleflight.Group
}

var (
	_ provider.Adapter             = (*Client)(nil)
	_ provider.ConnectionRefresher = (*Client)(nil)
	_ provider.ConnectionCompleter = (*Client)(nil)
	_ provider.ConnectionDescriber = (*Client)(nil)
)

// New creates a Vezgo client
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	connectURL := cfg.ConnectURL
	if connectURL == "" {
		connectURL = DefaultConnectURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = vendorhttp.DefaultTimeout
	}
	return &Client{
		api: vendorhttp.New(vendorhttp.Config{
			Provider:      Name,
			BaseURL:       baseURL,
			Timeout:       timeout,
			RatePerSecond: cfg.RatePerSecond,
		}),
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		connectURL: connectURL,
		tokens:     gocache.New(time.Hour, 10*time.Minute),
	}
}

func (c *Client) Name() string { return Name }

// userTokenSource mints a user token from the team credentials
type userTokenSource struct {
	ctx    context.Context
	client *Client
	userID string
}

func (s *userTokenSource) Token() (*oauth2.Token, error) {
	var resp tokenResponse
	err := s.client.api.Do(s.ctx, vendorhttp.Request{
		Method: http.MethodPost,
		Path:   "/auth/token",
		Header: http.Header{"loginName": {s.userID}},
		Body:   tokenRequest{ClientID: s.client.clientID, Secret: s.client.secret},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, provider.NewError(Name, 0, errors.New("token response carried no token"))
	}
	return &oauth2.Token{
		AccessToken: resp.Token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenLifetime),
	}, nil
}

// userToken returns the cached user token, minting a new one once it expires.
// Concurrent callers for the same user share one mint; the mint outlives a
// single caller's cancellation because its token is cached for everyone.
func (c *Client) userToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	if userID == "" {
		return nil, provider.NewError(Name, 0, errors.New("user id is required"))
	}
	if t, ok := c.tokens.Get(userID); ok {
		if token := t.(*oauth2.Token); token.Valid() {
			return token, nil
		}
	}

	ch := c.mints.DoChan(userID, func() (interface{}, error) {
		src := &userTokenSource{ctx: context.WithoutCancel(ctx), client: c, userID: userID}
		token, err := src.Token()
		if err != nil {
			return nil, err
		}
		c.tokens.Set(userID, token, time.Until(token.Expiry))
		return token, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, provider.NewError(Name, 0, fmt.Errorf("failed to get user token: %w", res.Err))
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (c *Client) do(ctx context.Context, userID string, r vendorhttp.Request, out any) error {
	token, err := c.userToken(ctx, userID)
	if err != nil {
		return err
	}
	r.Header = http.Header{"Authorization": {token.Type() + " " + token.AccessToken}}
	return c.api.Do(ctx, r, out)
}

// ConnectURL builds a Vezgo Connect link for an exchange or wallet, or the
// reconnect link for an existing account
func (c *Client) ConnectURL(ctx context.Context, req provider.ConnectRequest) (string, error) {
	token, err := c.userToken(ctx, req.UserID)
	if err != nil {
		return "", err
	}

	path := "/connect/" + url.PathEscape(req.InstitutionRef)
	if req.ReconnectOf != "" {
		path = "/reconnect/" + url.PathEscape(req.ReconnectOf)
	}
	q := url.Values{
		"client_id": {c.clientID},
		"token":     {token.AccessToken},
		"lang":      {"en"},
	}
	if req.RedirectURL != "" {
		q.Set("redirect_uri", req.RedirectURL)
	}
	return c.connectURL + path + "?" + q.Encode(), nil
}

// CompleteConnection resolves the account id Vezgo Connect redirected back with
func (c *Client) CompleteConnection(ctx context.Context, req provider.CompleteRequest) (*provider.Connection, error) {
	accountID := req.Params["account_id"]
	if accountID == "" {
		accountID = req.Params["account"]
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", provider.ErrInvalidParams)
	}
	conn, err := c.DescribeConnection(ctx, provider.Credentials{UserID: req.UserID, ConnectionID: accountID})
	if err != nil {
		return nil, err
	}
	conn.ReplacesConnectionID = req.Params["reconnect"]
	return conn, nil
}

// DescribeConnection returns the exchange or wallet behind a Vezgo account
func (c *Client) DescribeConnection(ctx context.Context, creds provider.Credentials) (*provider.Connection, error) {
	var a accountResource
	if err := c.do(ctx, creds.UserID, vendorhttp.Request{Path: "/accounts/" + url.PathEscape(creds.ConnectionID)}, &a); err != nil {
		return nil, err
	}
	return &provider.Connection{
		ConnectionID:    a.ID,
		InstitutionRef:  a.Provider.Name,
		InstitutionName: provider.CleanText(a.Provider.DisplayName),
	}, nil
}

// RefreshConnection asks Vezgo to resync an account
func (c *Client) RefreshConnection(ctx context.Context, creds provider.Credentials) error {
	return c.do(ctx, creds.UserID, vendorhttp.Request{
		Method: http.MethodPost,
		Path:   "/accounts/" + url.PathEscape(creds.ConnectionID) + "/sync",
	}, nil)
}

// Accounts lists the user's Vezgo accounts. Each one is its own connection
// holding a single crypto account.
func (c *Client) Accounts(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
	var raw []accountResource
	if creds.ConnectionID != "" {
		var one accountResource
		if err := c.do(ctx, creds.UserID, vendorhttp.Request{Path: "/accounts/" + url.PathEscape(creds.ConnectionID)}, &one); err != nil {
			return nil, err
		}
		raw = append(raw, one)
	} else if err := c.do(ctx, creds.UserID, vendorhttp.Request{Path: "/accounts"}, &raw); err != nil {
		return nil, err
	}

	accounts := make([]provider.Account, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, a.normalize())
	}
	return accounts, nil
}

// Transactions walks the account history from since using the last-id cursor
func (c *Client) Transactions(ctx context.Context, creds provider.Credentials, accountID string, since time.Time) ([]provider.Transaction, error) {
	raw, err := provider.CollectPages(ctx, transactionsPageSize, func(ctx context.Context, cursor string) ([]transactionResource, string, error) {
		q := url.Values{
			"from":  {since.Format(time.DateOnly)},
			"limit": {strconv.Itoa(transactionsPageSize)},
		}
		if cursor != "" {
			q.Set("last", cursor)
		}
		var page []transactionResource
		err := c.do(ctx, creds.UserID, vendorhttp.Request{
			Path:  "/accounts/" + url.PathEscape(accountID) + "/transactions",
			Query: q,
		}, &page)
		if err != nil {
			return nil, "", err
		}
		next := ""
		if len(page) > 0 {
			next = page[len(page)-1].ID
		}
		return page, next, nil
	})
	if err != nil {
		return nil, err
	}

	txs := make([]provider.Transaction, 0, len(raw))
	for _, t := range raw {
		txs = append(txs, t.normalize())
	}
	return txs, nil
}
