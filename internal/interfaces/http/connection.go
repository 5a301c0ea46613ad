package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/reconcile"
	"finlink/internal/shared/middleware"
)

// Linker is the user-facing connection lifecycle
type Linker interface {
	Connect(ctx context.Context, params link.ConnectParams) (string, error)
	Complete(ctx context.Context, userID, providerName string, params map[string]string) (*connection.InstitutionConnection, *reconcile.Result, error)
	Refresh(ctx context.Context, userID, providerName string, institutionConnectionID int64) error
	Deregister(ctx context.Context, userID, providerName string) error
}

type ConnectionHandler struct {
	linker Linker
}

func NewConnectionHandler(linker Linker) *ConnectionHandler {
	return &ConnectionHandler{linker: linker}
}

type ConnectRequest struct {
	InstitutionID string `json:"institution_id"`
	AccountID     string `json:"account_id,omitempty"`
	Reconnect     string `json:"reconnect,omitempty"`
}

type RefreshRequest struct {
	InstitutionConnectionID int64 `json:"institutionConnectionId"`
}

// HandleConnect starts a vendor connect flow and returns the URL to send the user to
func (h *ConnectionHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	name := chi.URLParam(r, "provider")

	var req ConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	url, err := h.linker.Connect(r.Context(), link.ConnectParams{
		UserID:        userID,
		Provider:      name,
		InstitutionID: req.InstitutionID,
		AccountID:     req.AccountID,
		Reconnect:     req.Reconnect,
	})
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: %s connect", userID, name))
		return
	}

	writeSuccess(w, http.StatusOK, url)
}

// HandleComplete finishes a redirect or client-side flow with the parameters
// the vendor handed back to the app
func (h *ConnectionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	name := chi.URLParam(r, "provider")

	params, err := decodeStringParams(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ic, _, err := h.linker.Complete(r.Context(), userID, name, params)
	if err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: %s complete", userID, name))
		return
	}

	writeSuccess(w, http.StatusOK, ic.ID)
}

// HandleRefresh refreshes one of the user's institution connections
func (h *ConnectionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	name := chi.URLParam(r, "provider")

	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.InstitutionConnectionID <= 0 {
		writeFailure(w, http.StatusBadRequest, "institutionConnectionId is required")
		return
	}

	if err := h.linker.Refresh(r.Context(), userID, name, req.InstitutionConnectionID); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: %s refresh", userID, name))
		return
	}

	writeSuccess(w, http.StatusOK, nil)
}

// HandleDeregister removes the user's registration with a provider
func (h *ConnectionHandler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	name := chi.URLParam(r, "provider")

	if err := h.linker.Deregister(r.Context(), userID, name); err != nil {
		writeError(w, err, callerSession, fmt.Sprintf("User %s: %s deregister", userID, name))
		return
	}

	writeSuccess(w, http.StatusOK, nil)
}

// decodeStringParams accepts a flat JSON object; non-string values are
// rendered back to their JSON text
func decodeStringParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			params[k] = s
			continue
		}
		params[k] = string(v)
	}
	return params, nil
}
