package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
)

func newConnectionServer(userID string, linker Linker) http.Handler {
	h := NewConnectionHandler(linker)
	return newRouter(userID, func(r chi.Router) {
		r.Post("/api/connections/connect/{provider}", h.HandleConnect)
		r.Post("/api/connections/complete/{provider}", h.HandleComplete)
		r.Post("/api/connections/refresh/{provider}", h.HandleRefresh)
		r.Post("/api/connections/deregister/{provider}", h.HandleDeregister)
	})
}

func do(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestConnectionHandler_Connect(t *testing.T) {
	var got link.ConnectParams
	linker := &MockLinker{
		ConnectFunc: func(ctx context.Context, params link.ConnectParams) (string, error) {
			got = params
			return "https://www.saltedge.com/connect/abc", nil
		},
	}

	rr := do(newConnectionServer("user-1", linker), http.MethodPost, "/api/connections/connect/saltedge",
		`{"institution_id":"fake_bank","account_id":"acc_9","reconnect":"conn_2"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if !resp.Success || resp.Data != "https://www.saltedge.com/connect/abc" {
		t.Errorf("response = %+v", resp)
	}
	want := link.ConnectParams{UserID: "user-1", Provider: "saltedge", InstitutionID: "fake_bank", AccountID: "acc_9", Reconnect: "conn_2"}
	if got != want {
		t.Errorf("Connect() params = %+v, want %+v", got, want)
	}
}

func TestConnectionHandler_ConnectErrors(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		body     string
		err      error
		wantCode int
	}{
		{"unauthenticated", "", `{"institution_id":"x"}`, nil, http.StatusUnauthorized},
		{"invalid body", "user-1", `{`, nil, http.StatusBadRequest},
		{"missing institution", "user-1", `{}`, fmt.Errorf("%w: institution_id is required", link.ErrInvalidRequest), http.StatusBadRequest},
		{"unknown provider", "user-1", `{"institution_id":"x"}`, fmt.Errorf("%w: plaid", provider.ErrUnknownProvider), http.StatusNotFound},
		{"reconnect of foreign connection", "user-1", `{"reconnect":"c"}`, connection.ErrInstitutionConnectionNotFound, http.StatusNotFound},
		{"vendor down", "user-1", `{"institution_id":"x"}`, &provider.ProviderError{Provider: "saltedge", StatusCode: 503, Err: errors.New("unavailable")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linker := &MockLinker{
				ConnectFunc: func(ctx context.Context, params link.ConnectParams) (string, error) {
					return "", tt.err
				},
			}
			rr := do(newConnectionServer(tt.userID, linker), http.MethodPost, "/api/connections/connect/saltedge", tt.body)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if resp := decodeResponse(t, rr); resp.Success {
				t.Error("success = true on failure")
			}
		})
	}
}

func TestConnectionHandler_Complete(t *testing.T) {
	var gotParams map[string]string
	linker := &MockLinker{
		CompleteFunc: func(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error) {
			if userID != "user-1" || providerName != "teller" {
				t.Errorf("Complete(%q, %q)", userID, providerName)
			}
			gotParams = params
			return &connection.InstitutionConnection{ID: 42}, &reconcile.Result{Accounts: 2}, nil
		},
	}

	rr := do(newConnectionServer("user-1", linker), http.MethodPost, "/api/connections/complete/teller",
		`{"access_token":"token_abc","enrollment_id":"enr_1","attempt":2}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if resp := decodeResponse(t, rr); resp.Data != float64(42) {
		t.Errorf("data = %v, want 42", resp.Data)
	}
	if gotParams["access_token"] != "token_abc" || gotParams["enrollment_id"] != "enr_1" || gotParams["attempt"] != "2" {
		t.Errorf("params = %v", gotParams)
	}
}

func TestConnectionHandler_CompleteUnsupported(t *testing.T) {
	linker := &MockLinker{
		CompleteFunc: func(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error) {
			return nil, nil, fmt.Errorf("%w: saltedge has no completion step", provider.ErrUnsupported)
		},
	}

	rr := do(newConnectionServer("user-1", linker), http.MethodPost, "/api/connections/complete/saltedge", `{}`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestConnectionHandler_Refresh(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantCall bool
	}{
		{"refreshed", `{"institutionConnectionId":7}`, nil, http.StatusOK, true},
		{"missing id", `{}`, nil, http.StatusBadRequest, false},
		{"other user's connection", `{"institutionConnectionId":7}`, connection.ErrInstitutionConnectionNotFound, http.StatusNotFound, true},
		{"integrity", `{"institutionConnectionId":7}`, reconcile.ErrMissingProviderAccountReference, http.StatusUnprocessableEntity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			linker := &MockLinker{
				RefreshFunc: func(ctx context.Context, userID, providerName string, id int64) error {
					called = true
					if id != 7 || userID != "user-1" || providerName != "vezgo" {
						t.Errorf("Refresh(%q, %q, %d)", userID, providerName, id)
					}
					return tt.err
				},
			}

			rr := do(newConnectionServer("user-1", linker), http.MethodPost, "/api/connections/refresh/vezgo", tt.body)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if called != tt.wantCall {
				t.Errorf("Refresh called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestConnectionHandler_Deregister(t *testing.T) {
	var gotUser, gotProvider string
	linker := &MockLinker{
		DeregisterFunc: func(ctx context.Context, userID, providerName string) error {
			gotUser, gotProvider = userID, providerName
			return nil
		},
	}

	rr := do(newConnectionServer("user-1", linker), http.MethodPost, "/api/connections/deregister/snaptrade", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if gotUser != "user-1" || gotProvider != "snaptrade" {
		t.Errorf("Deregister(%q, %q)", gotUser, gotProvider)
	}
}
