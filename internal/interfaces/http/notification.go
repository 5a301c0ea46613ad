package http

import (
	"context"
	"fmt"
	"net/http"

	"finlink/internal/domain/notification"
	"finlink/internal/shared/middleware"
)

// DeviceRegistrar stores FCM device tokens
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, params notification.RegisterDeviceParams) (*notification.DeviceToken, error)
}

type NotificationHandler struct {
	devices DeviceRegistrar
}

func NewNotificationHandler(devices DeviceRegistrar) *NotificationHandler {
	return &NotificationHandler{devices: devices}
}

type RegisterDeviceRequest struct {
	Token string `json:"token"`
}

// HandleRegisterDevice handles POST /api/notifications/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req RegisterDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.devices.RegisterDevice(r.Context(), notification.RegisterDeviceParams{
		UserID: userID,
		Token:  req.Token,
	})
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: register device", userID))
		return
	}

	writeSuccess(w, http.StatusCreated, token)
}
