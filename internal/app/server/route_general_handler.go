package server

import (
	"context"
	"net/http"
	"time"

	"gatekeeper/internal/app/version"

	"github.com/charmbracelet/log"
)

const healthTimeout = 2 * time.Second

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := a.Store.Ping(ctx); err != nil {
		log.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	body := map[string]any{"status": "ok", "version": version.BuildVersion()}
	if a.Instances != nil {
		if count, err := a.Instances(ctx); err == nil {
			body["instances"] = count
		}
	}
	writeJSON(w, http.StatusOK, body)
}
