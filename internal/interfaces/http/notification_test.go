package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"finlink/internal/domain/notification"
)

func TestNotificationHandler_RegisterDevice(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		body     string
		err      error
		wantCode int
	}{
		{"registered", "user-1", `{"token":"fcm-token-1"}`, nil, http.StatusCreated},
		{"unauthenticated", "", `{"token":"fcm-token-1"}`, nil, http.StatusUnauthorized},
		{"invalid body", "user-1", `token`, nil, http.StatusBadRequest},
		{"empty token", "user-1", `{"token":""}`, notification.ErrInvalidToken, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got notification.RegisterDeviceParams
			devices := &MockDeviceRegistrar{
				RegisterDeviceFunc: func(ctx context.Context, params notification.RegisterDeviceParams) (*notification.DeviceToken, error) {
					got = params
					if tt.err != nil {
						return nil, tt.err
					}
					return &notification.DeviceToken{ID: 1, UserID: params.UserID, Token: params.Token, Active: true}, nil
				},
			}
			h := NewNotificationHandler(devices)
			server := newRouter(tt.userID, func(r chi.Router) {
				r.Post("/api/notifications/devices", h.HandleRegisterDevice)
			})

			rr := do(server, http.MethodPost, "/api/notifications/devices", tt.body)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusCreated && (got.UserID != "user-1" || got.Token != "fcm-token-1") {
				t.Errorf("RegisterDevice params = %+v", got)
			}
		})
	}
}
