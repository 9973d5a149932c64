package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/koltyakov/passage/internal/auth"
)

const sessionCookieName = "auth_token"

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if !auth.CheckPassword(h.passwordHash, req.Password) {
		h.log.Warn("failed admin login", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, err := auth.IssueSessionToken(h.sessionSecret, time.Now())
	if err != nil {
		h.log.Error("failed to issue session token", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeSuccess(w)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authenticated(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeSuccess(w)
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": h.authenticated(r)})
}

// authenticated accepts either a valid session cookie or a Bearer API key.
func (h *Handler) authenticated(r *http.Request) bool {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if auth.VerifySessionToken(h.sessionSecret, c.Value) == nil {
			return true
		}
	}

	header := r.Header.Get("Authorization")
	if h.store != nil && strings.HasPrefix(header, "Bearer ") {
		key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if key != "" {
			hash := auth.HashAPIKey(key, h.apiKeyPepper)
			if _, err := h.store.ResolveAPIKeyID(r.Context(), hash); err == nil {
				return true
			}
		}
	}
	return false
}

// requireAuth guards an endpoint; it writes the 401 itself.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.authenticated(r) {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized")
	return false
}
