package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/domain"
	"github.com/koltyakov/passage/internal/redirect"
)

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.routes.Current())
	case http.MethodPut:
		routes := config.DefaultRoutes()
		if err := decodeJSONBody(w, r, routes); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.routes.Replace(routes); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save config")
			return
		}
		h.log.Info("route config replaced", "mappings", len(routes.Mappings))
		writeSuccess(w)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAuth(w, r) {
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeJSON(w, http.StatusOK, h.audit.Prefixes())
		return
	}
	writeJSON(w, http.StatusOK, h.audit.Entries(prefix))
}

func (h *Handler) handleTempRedirects(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.redirects.Sweep()
		writeJSON(w, http.StatusOK, h.redirects.List())
	case http.MethodPost:
		var req struct {
			TargetURL      string            `json:"target_url"`
			ExpiresIn      *int64            `json:"expires_in"`
			ExtraHeaders   map[string]string `json:"extra_headers"`
			Timeout        int64             `json:"timeout"`
			ConnectTimeout int64             `json:"connect_timeout"`
			RedirectOnly   bool              `json:"redirect_only"`
		}
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.TargetURL) == "" || req.ExpiresIn == nil {
			writeError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		entry, err := h.redirects.Create(req.TargetURL, *req.ExpiresIn, redirect.CreateOptions{
			ExtraHeaders:     req.ExtraHeaders,
			TimeoutMS:        req.Timeout,
			ConnectTimeoutMS: req.ConnectTimeout,
			RedirectOnly:     req.RedirectOnly,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Info("temporary redirect created", "id", entry.ID, "target", entry.TargetURL)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect": entry})
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleTempRedirectItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/temp-redirects/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "Redirect not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if !h.redirects.Delete(id) {
			writeError(w, http.StatusNotFound, "Redirect not found")
			return
		}
		h.log.Info("temporary redirect deleted", "id", id)
		writeSuccess(w)
	case http.MethodPut:
		var upd redirect.Update
		if err := decodeJSONBody(w, r, &upd); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := h.redirects.Update(id, upd)
		if errors.Is(err, domain.ErrRedirectNotFound) {
			writeError(w, http.StatusNotFound, "Redirect not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect": entry})
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}
