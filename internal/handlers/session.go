package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/auth"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/session"
)

// SessionHandler handles login and logout
type SessionHandler struct {
	sessions    *session.Manager
	authService *auth.Service
	log         logrus.FieldLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager, authService *auth.Service, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{sessions: sessions, authService: authService, log: log}
}

// Login starts a session for the asserted role and returns its token
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role, ok := models.ParseRole(string(req.Role))
	if !ok {
		http.Error(w, "Role must be one of ADMIN, DRIVER, PASSENGER", http.StatusBadRequest)
		return
	}

	user, err := h.sessions.Login(req.Email, role)
	switch {
	case errors.Is(err, session.ErrEmailRequired):
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		h.log.WithError(err).Error("Failed to generate session token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: user})
}

// Logout ends the session unconditionally
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout()
	w.WriteHeader(http.StatusNoContent)
}

// Current returns the session user
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessions.Current()
	if !ok {
		http.Error(w, "No active session", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
