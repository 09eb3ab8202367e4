package server

import (
	"io"
	"net/http"

	"labsync/internal/util"
)

const maxWebhookBody = 256 << 10

// handleIdentityWebhook receives signed user lifecycle events from the
// identity provider. Signature failures are 401 so the provider retries with
// a fresh delivery; application failures are 500 for the same reason.
func (s *Server) handleIdentityWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.webhookVerifier == nil || s.identity == nil {
		writeError(w, http.StatusInternalServerError, "identity webhook not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.webhookVerifier.Verify(
		r.Header.Get("Webhook-Id"),
		r.Header.Get("Webhook-Timestamp"),
		r.Header.Get("Webhook-Signature"),
		body,
	); err != nil {
		util.LoggerFromContext(r.Context()).Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if err := s.identity.Apply(body); err != nil {
		util.LoggerFromContext(r.Context()).Error("webhook event failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
