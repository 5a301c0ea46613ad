package saltedge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{AppID: "app", Secret: "secret", BaseURL: server.URL})
}

func TestClient_RegisterUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/customers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("App-id") != "app" || r.Header.Get("Secret") != "secret" {
			t.Errorf("missing credentials headers")
		}
		var in struct {
			Data struct {
				Identifier string `json:"identifier"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		if in.Data.Identifier != "user-1" {
			t.Errorf("identifier = %q", in.Data.Identifier)
		}
		w.Write([]byte(`{"data":{"customer_id":"cust-1","identifier":"user-1"}}`))
	})

	reg, err := client.RegisterUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	if reg.ExternalUserID != "cust-1" || reg.Secret != "cust-1" {
		t.Errorf("RegisterUser() = %+v", reg)
	}
}

func TestClient_DeregisterUser(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		status  int
		wantErr bool
		wantHit bool
	}{
		{"deleted", "cust-1", http.StatusOK, false, true},
		{"already gone", "cust-1", http.StatusNotFound, false, true},
		{"vendor failure", "cust-1", http.StatusInternalServerError, true, true},
		{"nothing registered", "", http.StatusOK, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit := false
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hit = true
				if r.Method != http.MethodDelete || r.URL.Path != "/customers/cust-1" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			})

			err := client.DeregisterUser(context.Background(), "user-1", tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("DeregisterUser() error = %v, wantErr %v", err, tt.wantErr)
			}
			if hit != tt.wantHit {
				t.Errorf("vendor called = %v, want %v", hit, tt.wantHit)
			}
		})
	}
}

func TestClient_ConnectURL(t *testing.T) {
	tests := []struct {
		name     string
		req      provider.ConnectRequest
		wantPath string
		wantBody string
	}{
		{
			name:     "new connection",
			req:      provider.ConnectRequest{UserID: "user-1", Secret: "cust-1", InstitutionRef: "fake_bank_xf", RedirectURL: "https://app/return"},
			wantPath: "/connections/connect",
			wantBody: `"provider_code":"fake_bank_xf"`,
		},
		{
			name:     "reconnect",
			req:      provider.ConnectRequest{UserID: "user-1", Secret: "cust-1", ReconnectOf: "conn-9"},
			wantPath: "/connections/conn-9/reconnect",
			wantBody: `"scopes":["accounts","transactions"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %q, want %q", r.URL.Path, tt.wantPath)
				}
				body, _ := io.ReadAll(r.Body)
				if !strings.Contains(string(body), tt.wantBody) {
					t.Errorf("body %s does not contain %s", body, tt.wantBody)
				}
				w.Write([]byte(`{"data":{"connect_url":"https://www.saltedge.com/connect?token=x"}}`))
			})

			got, err := client.ConnectURL(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("ConnectURL() error = %v", err)
			}
			if got != "https://www.saltedge.com/connect?token=x" {
				t.Errorf("ConnectURL() = %q", got)
			}
		})
	}
}

func TestClient_Accounts_Classification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"a1","connection_id":"c1","name":"Main","nature":"checking","balance":1000.5,"currency_code":"eur"},
			{"id":"a2","connection_id":"c1","name":"Visa","nature":"credit_card","balance":-120,"currency_code":"EUR"},
			{"id":"a3","connection_id":"c1","name":"House","nature":"mortgage","balance":-90000,"currency_code":"EUR"},
			{"id":"a4","connection_id":"c1","name":"Stocks","nature":"investment","balance":"2500.25","currency_code":"EUR"},
			{"id":"a5","connection_id":"c1","name":"<b>Odd</b>","nature":"spaceship","balance":1,"currency_code":"EUR"}
		],"meta":{"next_id":null}}`))
	})

	accounts, err := client.Accounts(context.Background(), provider.Credentials{ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}

	want := []struct {
		typ, subtype string
	}{
		{account.TypeAsset, account.SubtypeDepository},
		{account.TypeLiability, account.SubtypeCreditCard},
		{account.TypeLiability, account.SubtypeLoan},
		{account.TypeAsset, account.SubtypeBrokerage},
		{account.TypeAsset, account.SubtypeDepository},
	}
	if len(accounts) != len(want) {
		t.Fatalf("got %d accounts, want %d", len(accounts), len(want))
	}
	for i, w := range want {
		if accounts[i].Type != w.typ || accounts[i].Subtype != w.subtype {
			t.Errorf("account %s = %s/%s, want %s/%s", accounts[i].ProviderAccountID, accounts[i].Type, accounts[i].Subtype, w.typ, w.subtype)
		}
		if !accounts[i].SyncCompleted {
			t.Errorf("account %s not marked sync completed", accounts[i].ProviderAccountID)
		}
	}
	if accounts[0].Currency != "EUR" || accounts[0].Value.String() != "1000.5" {
		t.Errorf("account a1 = %+v", accounts[0])
	}
	if accounts[3].Value.String() != "2500.25" {
		t.Errorf("string balance decoded as %s", accounts[3].Value)
	}
	if accounts[4].Name != "Odd" {
		t.Errorf("name not sanitized: %q", accounts[4].Name)
	}
}

func TestClient_Transactions_Paginates(t *testing.T) {
	var cursors []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cursors = append(cursors, r.URL.Query().Get("from_id"))
		if r.URL.Query().Get("account_id") != "a1" {
			t.Errorf("account_id = %q", r.URL.Query().Get("account_id"))
		}
		switch r.URL.Query().Get("from_id") {
		case "":
			w.Write([]byte(`{"data":[
				{"id":"t1","made_on":"2030-01-05","amount":-10.5,"currency_code":"EUR","description":"Coffee","status":"posted"},
				{"id":"t2","made_on":"2030-01-06","amount":-3,"currency_code":"EUR","description":"Bus","status":"pending"}
			],"meta":{"next_id":"t3"}}`))
		case "t3":
			w.Write([]byte(`{"data":[
				{"id":"t3","made_on":"2020-01-01","amount":100,"currency_code":"EUR","description":"Old","status":"posted"}
			],"meta":{"next_id":null}}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("from_id"))
		}
	})

	since := time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)
	txs, err := client.Transactions(context.Background(), provider.Credentials{ConnectionID: "c1"}, "a1", since)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(cursors) != 2 {
		t.Errorf("fetched %d pages, want 2", len(cursors))
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2 (old one filtered)", len(txs))
	}
	if txs[0].Pending || !txs[1].Pending {
		t.Errorf("pending flags = %v, %v", txs[0].Pending, txs[1].Pending)
	}
	if len(provider.WithoutPending(txs)) != 1 {
		t.Error("WithoutPending should leave one transaction")
	}
}

func TestClient_Transactions_KeepsBoundaryDay(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("from_date"); got != "2030-01-05" {
			t.Errorf("from_date = %q, want 2030-01-05", got)
		}
		w.Write([]byte(`{"data":[
			{"id":"t1","made_on":"2030-01-05","amount":-10.5,"currency_code":"EUR","description":"Coffee","status":"posted"},
			{"id":"t0","made_on":"2030-01-04","amount":-1,"currency_code":"EUR","description":"Before","status":"posted"}
		],"meta":{}}`))
	})

	since := time.Date(2030, 1, 5, 16, 45, 0, 0, time.UTC)
	txs, err := client.Transactions(context.Background(), provider.Credentials{ConnectionID: "c1"}, "a1", since)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(txs) != 1 || txs[0].ProviderTransactionID != "t1" {
		t.Errorf("transactions = %+v, want only t1 from the boundary day", txs)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"class":"ConnectionNotFound"}}`))
	})

	_, err := client.Accounts(context.Background(), provider.Credentials{ConnectionID: "c1"})
	var pe *provider.ProviderError
	if !errors.As(err, &pe) || !pe.IsUnauthorized() {
		t.Fatalf("Accounts() error = %v, want unauthorized ProviderError", err)
	}
}
