package httpx

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/queue"
	"github.com/splax/instantiate/internal/webhook"
)

func projectKey(req *http.Request) string {
	return strings.TrimSpace(req.URL.Query().Get("key"))
}

// handleUpdate accepts a provider webhook, normalizes it and enqueues the
// lifecycle work. The lifecycle never runs on the request goroutine.
func (r *Router) handleUpdate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	key := projectKey(req)
	if key == "" {
		writeError(w, http.StatusBadRequest, "key query parameter required")
		return
	}
	if r.allowedKeys != nil {
		if !r.allowedKeys.allows(key) {
			r.metrics.recordWebhook("", "forbidden")
			writeError(w, http.StatusForbidden, "unknown project key")
			return
		}
	}

	provider, kind, ok := webhook.DetectProvider(req.Header)
	if !ok {
		r.metrics.recordWebhook("", "unknown_provider")
		writeError(w, http.StatusBadRequest, "unknown webhook provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := r.verify(provider, req.Header, body); err != nil {
		r.logger.Warn("webhook authentication failed", "provider", provider, "error", err)
		r.metrics.recordWebhook(string(provider), "unauthorized")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	outcome, err := r.deps.Parser.Parse(req.Context(), provider, kind, body)
	if err != nil {
		r.metrics.recordWebhook(string(provider), "invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !outcome.IsHandled() {
		r.metrics.recordWebhook(string(provider), "skipped")
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": outcome.Reason})
		return
	}

	msg := queue.NewMessage(outcome.Event, key, outcome.ForceDeploy)
	if err := r.deps.Queue.Publish(req.Context(), msg); err != nil {
		r.logger.Error("enqueue failed", "error", err, "project_id", msg.Event.ProjectID, "mr_id", msg.Event.MRID)
		r.metrics.recordWebhook(string(provider), "enqueue_failed")
		writeError(w, http.StatusServiceUnavailable, "could not enqueue event")
		return
	}
	r.metrics.recordWebhook(string(provider), "queued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"message_id": msg.ID,
		"project_id": msg.Event.ProjectID,
		"mr_id":      msg.Event.MRID,
		"action":     msg.Event.Status,
		"force":      msg.ForceDeploy,
	})
}

// verify checks delivery authenticity when a secret is configured for the provider.
func (r *Router) verify(provider domain.Provider, h http.Header, body []byte) error {
	switch provider {
	case domain.ProviderGitHub:
		if secret := r.cfg.GitHubWebhookSecret; secret != "" {
			return webhook.ValidateSignature(body, []byte(secret), h.Get(webhook.GitHubSignatureHeader))
		}
	case domain.ProviderGitLab:
		if token := r.cfg.GitLabWebhookToken; token != "" {
			return webhook.ValidateToken(token, h.Get(webhook.GitLabTokenHeader))
		}
	default:
		return errors.New("unsupported provider")
	}
	return nil
}
