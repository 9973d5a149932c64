package admin

import (
	"net/http"
	"path/filepath"
)

// handleAdminUI serves the single-page admin console.
func (h *Handler) handleAdminUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
}

// ServeIndex serves the console index page. The server mounts it on the
// bare root path, which no proxy mapping can own.
func (h *Handler) ServeIndex(w http.ResponseWriter, r *http.Request) {
	h.handleAdminUI(w, r)
}
