package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// appHosts mirrors a deployment serving the web app and a local dev client
var appHosts = []string{"app.finlink.test", "localhost:5173"}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"web app", "https://app.finlink.test", true},
		{"web app any port", "https://app.finlink.test:8443", true},
		{"dev client on its port", "http://localhost:5173", true},
		{"dev client other port", "http://localhost:3000", true},
		{"uppercase origin", "HTTPS://APP.FINLINK.TEST", true},
		{"vendor domain", "https://www.saltedge.com", false},
		{"lookalike suffix", "https://app.finlink.test.evil.io", false},
		{"subdomain of app", "https://api.app.finlink.test", false},
		{"malformed", "://app.finlink.test", false},
		{"opaque origin", "null", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, appHosts); got != tt.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name            string
		hosts           []string
		method          string
		path            string
		origin          string
		wantStatus      int
		wantOrigin      string
		wantCredentials bool
		wantNext        bool
	}{
		{
			name:   "app lists accounts",
			hosts:  appHosts,
			method: http.MethodGet, path: "/api/accounts", origin: "https://app.finlink.test",
			wantStatus: http.StatusOK, wantOrigin: "https://app.finlink.test", wantCredentials: true, wantNext: true,
		},
		{
			name:   "foreign site starts a connect flow",
			hosts:  appHosts,
			method: http.MethodPost, path: "/api/connections/connect/snaptrade", origin: "https://evil.io",
			wantStatus: http.StatusForbidden,
		},
		{
			name:   "vendor callback from any origin",
			hosts:  appHosts,
			method: http.MethodPost, path: "/callback/providers/teller", origin: "https://teller.io",
			wantStatus: http.StatusOK, wantOrigin: "*", wantNext: true,
		},
		{
			name:   "vendor callback without origin",
			hosts:  appHosts,
			method: http.MethodPost, path: "/callback/providers/saltedge",
			wantStatus: http.StatusOK, wantOrigin: "*", wantNext: true,
		},
		{
			name:   "cron trigger from a server",
			hosts:  appHosts,
			method: http.MethodPost, path: "/api/cron/sync",
			wantStatus: http.StatusOK, wantNext: true,
		},
		{
			name:   "preflight for a manual transaction",
			hosts:  appHosts,
			method: http.MethodOptions, path: "/api/transactions", origin: "http://localhost:5173",
			wantStatus: http.StatusNoContent, wantOrigin: "http://localhost:5173", wantCredentials: true,
		},
		{
			name:   "preflight from a foreign site",
			hosts:  appHosts,
			method: http.MethodOptions, path: "/api/transactions", origin: "https://evil.io",
			wantStatus: http.StatusForbidden,
		},
		{
			name:   "open deployment",
			hosts:  nil,
			method: http.MethodGet, path: "/api/accounts", origin: "https://anything.example",
			wantStatus: http.StatusOK, wantOrigin: "*", wantNext: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS(tt.hosts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
		})
	}
}

func TestCORS_AllowsCronAndRequestHeaders(t *testing.T) {
	handler := CORS(appHosts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodOptions, "/api/cron/sync", nil)
	req.Header.Set("Origin", "https://app.finlink.test")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	allowed := rr.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"Authorization", "X-Cron-Secret", "X-Request-ID"} {
		if !strings.Contains(allowed, h) {
			t.Errorf("Allow-Headers = %q, missing %s", allowed, h)
		}
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Errorf("Allow-Methods = %q, missing PATCH", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}
