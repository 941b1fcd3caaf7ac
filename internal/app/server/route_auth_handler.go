package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"gatekeeper/internal/api/dto"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/domain"

	"github.com/charmbracelet/log"
)

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var credentials dto.Credentials
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := a.Operator.Login(r.Context(), a.Store, credentials.Email, credentials.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		log.Error("Operator login failed", "error", err)
		writeError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	token, expiresAt, err := auth.GenerateJWT(user.ID, domain.RoleAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.TokenResponse{
		Token:     token,
		Role:      domain.RoleAdmin,
		ExpiresAt: expiresAt.Unix(),
	})
}
