package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"prospect-engine/internal/config"
	"prospect-engine/internal/secrets"
)

type SecretsHandler struct {
	Cfg config.Config
}

type setSecretReq struct {
	Value string `json:"value"`
}

func decodeSecret(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req setSecretReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return "", false
	}
	return req.Value, true
}

func (h SecretsHandler) SetIMAPPassword(w http.ResponseWriter, r *http.Request) {
	v, ok := decodeSecret(w, r)
	if !ok {
		return
	}
	if err := secrets.Set(secrets.IMAPKeyringAccount(h.Cfg.Email), v); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring_error", "failed to store password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) SetWebhookToken(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	wh, ok := h.Cfg.Channels.Webhooks[channel]
	if !ok {
		WriteError(w, r, http.StatusNotFound, "unknown_channel", "no webhook configured for "+channel)
		return
	}
	v, ok := decodeSecret(w, r)
	if !ok {
		return
	}
	if err := secrets.Set(secrets.WebhookKeyringAccount(channel, wh), v); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring_error", "failed to store token: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
