package httpapi

import (
	"net/http"
	"path/filepath"

	"prospect-engine/internal/config"
)

// ConfigHandler exposes the running configuration read-only. Changes go
// through the config file and a restart.
type ConfigHandler struct {
	Cfg  config.Config
	Path string
}

func (h ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	abs, _ := filepath.Abs(h.Path)
	WriteJSON(w, http.StatusOK, map[string]any{"path": abs, "config": h.Cfg})
}

func (h ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	_, vr := config.NormalizeAndValidate(h.Cfg)
	WriteJSON(w, http.StatusOK, vr)
}
