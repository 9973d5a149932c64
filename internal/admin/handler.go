// Package admin implements the control plane: login and sessions, route
// config management, temporary redirect CRUD, audit log access, and the
// static UI.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/koltyakov/passage/internal/audit"
	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/redirect"
	"github.com/koltyakov/passage/internal/store/sqlite"
)

const maxBodyBytes = 1 << 20

// Options wires the handler's collaborators.
type Options struct {
	Routes        *config.Table
	Redirects     *redirect.Store
	Audit         *audit.Log
	Store         *sqlite.Store
	SessionSecret []byte
	PasswordHash  string
	APIKeyPepper  string
	StaticDir     string
	Logger        *slog.Logger
}

// Handler serves the /api and /admin surfaces.
type Handler struct {
	routes        *config.Table
	redirects     *redirect.Store
	audit         *audit.Log
	store         *sqlite.Store
	sessionSecret []byte
	passwordHash  string
	apiKeyPepper  string
	staticDir     string
	log           *slog.Logger
}

func New(opts Options) *Handler {
	return &Handler{
		routes:        opts.Routes,
		redirects:     opts.Redirects,
		audit:         opts.Audit,
		store:         opts.Store,
		sessionSecret: opts.SessionSecret,
		passwordHash:  opts.PasswordHash,
		apiKeyPepper:  opts.APIKeyPepper,
		staticDir:     opts.StaticDir,
		log:           opts.Logger,
	}
}

// Register mounts all admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.HandleFunc("/api/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/status", h.handleAuthStatus)
	mux.HandleFunc("/api/config", h.handleConfig)
	mux.HandleFunc("/api/logs", h.handleLogs)
	mux.HandleFunc("/api/logs/stream", h.handleLogStream)
	mux.HandleFunc("/api/temp-redirects", h.handleTempRedirects)
	mux.HandleFunc("/api/temp-redirects/", h.handleTempRedirectItem)
	// Unknown /api paths never fall through to the proxy surface.
	mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	mux.HandleFunc("/admin", h.handleAdminUI)
	mux.HandleFunc("/admin/", h.handleAdminUI)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return err
	}
	return nil
}
