package vezgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

type fakeVezgo struct {
	tokenCalls atomic.Int32
	lastIDs    []string
}

func (f *fakeVezgo) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var in tokenRequest
		json.NewDecoder(r.Body).Decode(&in)
		if in.ClientID != "client" || in.Secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"token":"tok-` + r.Header.Get("loginName") + `"}`))
	})
	mux.HandleFunc("GET /accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-user-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[
			{"id":"va-1","status":"ok","provider":{"name":"coinbase","display_name":"Coinbase"},"fiat_ticker":"USD","fiat_value":"4200.10"},
			{"id":"va-2","status":"syncing","provider":{"name":"metamask","display_name":"MetaMask"},"fiat_value":0}
		]`))
	})
	mux.HandleFunc("GET /accounts/va-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"va-1","status":"ok","provider":{"name":"coinbase","display_name":"Coinbase"},"fiat_value":"4200.10"}`))
	})
	mux.HandleFunc("GET /accounts/va-1/transactions", func(w http.ResponseWriter, r *http.Request) {
		last := r.URL.Query().Get("last")
		f.lastIDs = append(f.lastIDs, last)
		if r.URL.Query().Get("from") == "" {
			t.Error("from parameter missing")
		}
		if last != "" {
			w.Write([]byte(`[]`))
			return
		}
		var items []string
		for i := 0; i < transactionsPageSize; i++ {
			items = append(items, fmt.Sprintf(`{"id":"tx-%d","transaction_type":"trade","status":"confirmed","initiated_at":1714550400000,
				"parts":[{"direction":"received","ticker":"btc","fiat_ticker":"usd","fiat_value":"100"},{"direction":"sent","ticker":"usd","fiat_ticker":"usd","fiat_value":"101.5"}]}`, i))
		}
		w.Write([]byte("[" + strings.Join(items, ",") + "]"))
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeVezgo) {
	t.Helper()
	fake := &fakeVezgo{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return New(Config{ClientID: "client", Secret: "secret", BaseURL: server.URL, ConnectURL: "https://connect.test"}), fake
}

func TestClient_Accounts_ReusesToken(t *testing.T) {
	client, fake := newTestClient(t)

	for i := 0; i < 3; i++ {
		accounts, err := client.Accounts(context.Background(), provider.Credentials{UserID: "user-1"})
		if err != nil {
			t.Fatalf("Accounts() error = %v", err)
		}
		if len(accounts) != 2 {
			t.Fatalf("got %d accounts, want 2", len(accounts))
		}
		for _, a := range accounts {
			if a.Type != account.TypeAsset || a.Subtype != account.SubtypeCrypto {
				t.Errorf("%s = %s/%s, want asset/crypto", a.ProviderAccountID, a.Type, a.Subtype)
			}
			if a.ConnectionID != a.ProviderAccountID {
				t.Errorf("%s: connection id %q should equal account id", a.ProviderAccountID, a.ConnectionID)
			}
		}
		if !accounts[0].SyncCompleted || accounts[1].SyncCompleted {
			t.Errorf("sync flags = %v, %v", accounts[0].SyncCompleted, accounts[1].SyncCompleted)
		}
		if accounts[0].Value.String() != "4200.1" {
			t.Errorf("value = %s", accounts[0].Value)
		}
	}

	if n := fake.tokenCalls.Load(); n != 1 {
		t.Errorf("token minted %d times, want 1", n)
	}
}

func TestClient_ConnectURL(t *testing.T) {
	client, _ := newTestClient(t)

	tests := []struct {
		name     string
		req      provider.ConnectRequest
		wantPath string
	}{
		{"new", provider.ConnectRequest{UserID: "user-1", InstitutionRef: "coinbase", RedirectURL: "https://app/cb"}, "/connect/coinbase"},
		{"reconnect", provider.ConnectRequest{UserID: "user-1", ReconnectOf: "va-1"}, "/reconnect/va-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.ConnectURL(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("ConnectURL() error = %v", err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("invalid url %q", got)
			}
			if u.Host != "connect.test" || u.Path != tt.wantPath {
				t.Errorf("ConnectURL() = %q", got)
			}
			if u.Query().Get("token") != "tok-user-1" || u.Query().Get("client_id") != "client" {
				t.Errorf("query = %q", u.RawQuery)
			}
		})
	}
}

func TestClient_CompleteConnection(t *testing.T) {
	client, _ := newTestClient(t)

	conn, err := client.CompleteConnection(context.Background(), provider.CompleteRequest{
		UserID: "user-1",
		Params: map[string]string{"account_id": "va-1"},
	})
	if err != nil {
		t.Fatalf("CompleteConnection() error = %v", err)
	}
	if conn.ConnectionID != "va-1" || conn.InstitutionRef != "coinbase" || conn.InstitutionName != "Coinbase" {
		t.Errorf("CompleteConnection() = %+v", conn)
	}

	_, err = client.CompleteConnection(context.Background(), provider.CompleteRequest{UserID: "user-1"})
	if !errors.Is(err, provider.ErrInvalidParams) {
		t.Errorf("CompleteConnection() without account error = %v", err)
	}
}

func TestClient_Transactions(t *testing.T) {
	client, fake := newTestClient(t)

	txs, err := client.Transactions(context.Background(), provider.Credentials{UserID: "user-1"}, "va-1", time.Now().AddDate(0, -1, 0))
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(txs) != transactionsPageSize {
		t.Fatalf("got %d transactions, want %d", len(txs), transactionsPageSize)
	}
	if len(fake.lastIDs) != 2 || fake.lastIDs[1] != txs[len(txs)-1].ProviderTransactionID {
		t.Errorf("cursors = %v", fake.lastIDs)
	}
	tx := txs[0]
	if tx.Amount.String() != "-1.5" || tx.Currency != "USD" {
		t.Errorf("tx = %+v", tx)
	}
	if !tx.Date.Equal(time.UnixMilli(1714550400000)) {
		t.Errorf("date = %v", tx.Date)
	}
}

func TestClient_TokenFailure(t *testing.T) {
	fake := &fakeVezgo{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()
	client := New(Config{ClientID: "client", Secret: "wrong", BaseURL: server.URL})

	_, err := client.Accounts(context.Background(), provider.Credentials{UserID: "user-1"})
	var pe *provider.ProviderError
	if !errors.As(err, &pe) || !pe.IsUnauthorized() {
		t.Errorf("Accounts() error = %v, want unauthorized ProviderError", err)
	}
}

func TestClient_UserToken_CancelledCallerDoesNotAbortMint(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Write([]byte(`{"token":"tok-` + r.Header.Get("loginName") + `"}`))
	}))
	defer server.Close()
	client := New(Config{ClientID: "client", Secret: "secret", BaseURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.userToken(ctx, "user-1")
		errc <- err
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("userToken() error = %v, want context.Canceled", err)
	}

	close(release)
	token, err := client.userToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("userToken() error = %v", err)
	}
	if token.AccessToken != "tok-user-1" {
		t.Errorf("token = %q, want tok-user-1", token.AccessToken)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("token minted %d times, want 1", n)
	}
}
