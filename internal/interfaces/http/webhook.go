package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-chi/chi/v5"

	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
)

// EventHandler applies one normalized event to the ledger
type EventHandler interface {
	Handle(ctx context.Context, ev provider.Event) (*reconcile.Result, error)
}

// WebhookHandler receives vendor callbacks on /callback/providers/{provider}
type WebhookHandler struct {
	adapters provider.Directory
	engine   EventHandler
	timeout  time.Duration
}

func NewWebhookHandler(adapters provider.Directory, engine EventHandler, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookHandler{adapters: adapters, engine: engine, timeout: timeout}
}

// HandleCallback authenticates, parses and applies a vendor callback. Events
// are applied in order and the first failure ends the request, leaving the
// vendor to redeliver.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")

	parser, err := h.adapters.Webhooks(name)
	if err != nil {
		writeError(w, err, callerWebhook, "Webhook")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err, callerWebhook, "Webhook "+name)
		return
	}

	if err := checkEnvelope(body, parser.RequiredFields()); err != nil {
		log.Printf("Webhook %s: rejected payload: %v", name, err)
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := parser.Verify(r.Header, body); err != nil {
		log.Printf("Webhook %s: signature check failed: %v", name, err)
		writeError(w, err, callerWebhook, "Webhook "+name)
		return
	}

	events, err := parser.Parse(r.URL.Query(), body)
	if err != nil {
		writeError(w, err, callerWebhook, "Webhook "+name)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, ev := range events {
		res, err := h.engine.Handle(ctx, ev)
		if err != nil {
			writeError(w, fmt.Errorf("%s %s for connection %q: %w", name, ev.Type, ev.ConnectionID, err), callerWebhook, "Webhook "+name)
			return
		}
		if res != nil {
			log.Printf("Webhook %s: %s applied (accounts=%d created=%d updated=%d)",
				name, ev.Type, res.Accounts, res.Created, res.Updated)
		}
	}

	writeSuccess(w, http.StatusOK, nil)
}

// checkEnvelope requires a JSON object in which every path resolves
func checkEnvelope(body []byte, required []string) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: malformed JSON", provider.ErrInvalidEvent)
	}
	if _, ok := doc.(map[string]any); !ok {
		return fmt.Errorf("%w: body is not a JSON object", provider.ErrInvalidEvent)
	}

	for _, path := range required {
		if _, err := jsonpath.Get(path, doc); err != nil {
			return fmt.Errorf("%w: missing %s", provider.ErrInvalidEvent, path)
		}
	}
	return nil
}
