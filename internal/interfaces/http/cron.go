package http

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// SyncTrigger queues a sync of every poll-only connection
type SyncTrigger interface {
	RunNow(ctx context.Context) (int, error)
}

// CronHandler lets an external scheduler start the poll cycle
type CronHandler struct {
	secret  []byte
	trigger SyncTrigger
}

func NewCronHandler(secret string, trigger SyncTrigger) *CronHandler {
	return &CronHandler{secret: []byte(secret), trigger: trigger}
}

type CronResult struct {
	Queued int `json:"queued"`
}

// HandleSync answers both GET and POST; the work runs on the worker pool
func (h *CronHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeFailure(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	queued, err := h.trigger.RunNow(r.Context())
	if err != nil {
		log.Printf("Cron sync: failed to queue jobs: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to queue sync")
		return
	}

	log.Printf("Cron sync: queued %d connection jobs", queued)
	writeSuccess(w, http.StatusAccepted, CronResult{Queued: queued})
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}

	candidate := r.Header.Get("X-Cron-Secret")
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			candidate = strings.TrimSpace(token)
		}
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), h.secret) == 1
}
