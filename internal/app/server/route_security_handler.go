package server

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"gatekeeper/internal/api/dto"
	"gatekeeper/internal/config"
	"gatekeeper/internal/dashboard"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/jobs/analysis"
	"gatekeeper/internal/security"

	"github.com/charmbracelet/log"
)

const maxReasonLength = 1000

func (a *api) getDashboard(w http.ResponseWriter, r *http.Request) {
	query := dashboard.ParseQuery(r.URL.Query(), time.Now(), config.GetConfig().Dashboard)

	snapshot, err := a.Dashboard.Summarize(r.Context(), query)
	if err != nil {
		log.Error("Dashboard aggregation failed", "error", err)
		writeError(w, "Failed to build dashboard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *api) listBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Store.ListBlacklistEntries(r.Context())
	if err != nil {
		log.Error("Listing blacklist failed", "error", err)
		writeError(w, "Failed to list blacklist", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) upsertBlacklist(w http.ResponseWriter, r *http.Request) {
	var body dto.BlacklistEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	address, ok := operatorAddress(body.IPAddress)
	if !ok {
		writeError(w, "Invalid IP address", http.StatusBadRequest)
		return
	}

	entry := &domain.BlacklistedIP{
		IPAddress: address,
		Reason:    domain.Truncate(strings.TrimSpace(body.Reason), maxReasonLength),
		Active:    true,
		ExpiresAt: body.ExpiresAt,
	}
	if body.Active != nil {
		entry.Active = *body.Active
	}

	if err := a.Store.UpsertBlacklistEntry(r.Context(), entry); err != nil {
		log.Error("Saving blacklist entry failed", "ip", address, "error", err)
		writeError(w, "Failed to save blacklist entry", http.StatusInternalServerError)
		return
	}

	log.Info("Blacklist entry saved", "ip", address, "active", entry.Active)
	writeJSON(w, http.StatusOK, entry)
}

func (a *api) deleteBlacklist(w http.ResponseWriter, r *http.Request) {
	address, ok := operatorAddress(r.PathValue("ip"))
	if !ok {
		writeError(w, "Invalid IP address", http.StatusBadRequest)
		return
	}

	deleted, err := a.Store.DeleteBlacklistEntry(r.Context(), address)
	if err != nil {
		log.Error("Deleting blacklist entry failed", "ip", address, "error", err)
		writeError(w, "Failed to delete blacklist entry", http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeError(w, "Blacklist entry not found", http.StatusNotFound)
		return
	}

	log.Info("Blacklist entry deleted", "ip", address)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listSuspicious(w http.ResponseWriter, r *http.Request) {
	records, err := a.Store.ListSuspiciousIPs(r.Context())
	if err != nil {
		log.Error("Listing suspicious addresses failed", "error", err)
		writeError(w, "Failed to list suspicious addresses", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *api) runAnalysis(w http.ResponseWriter, r *http.Request) {
	opts := analysis.OptionsFromConfig(config.GetConfig().Analyzer)

	report, err := analysis.Run(r.Context(), a.Store, opts, time.Now())
	if err != nil {
		log.Error("Manual analysis failed", "error", err)
		writeError(w, "Analysis failed", http.StatusInternalServerError)
		return
	}

	log.Info(report.String(), "trigger", "api")
	writeJSON(w, http.StatusOK, report)
}

func (a *api) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func (a *api) saveSettings(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetConfig().Clone()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := cfg.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.SetConfig(cfg); err != nil {
		writeError(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

// operatorAddress validates raw and converts it to the stored form, so an
// operator can paste either the client address or the anonymized one.
func operatorAddress(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if _, err := netip.ParseAddr(raw); err != nil {
		return "", false
	}
	return security.StoredAddress(raw, config.GetConfig().Security.AnonymizeIP), true
}
