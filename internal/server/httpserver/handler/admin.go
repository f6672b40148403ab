package handler

import (
	"bufio"
	"net/http"
	"time"

	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
)

// handleAdminStatus handles GET /admin/v1/status.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "running",
		"version": buildinfo.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.status != nil {
		for k, v := range h.status() {
			status[k] = v
		}
	}
	h.writeJSON(w, r, http.StatusOK, status)
}

// handleListAPIKeys handles GET /admin/v1/keys.
func (h *Handler) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeJSON(w, r, http.StatusOK, ListAPIKeysResponse{Keys: []APIKeyResponse{}})
		return
	}

	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := ListAPIKeysResponse{Keys: make([]APIKeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, APIKeyResponse{
			KeyID:     k.KeyID,
			Name:      k.Name,
			Role:      string(k.Role),
			Status:    string(k.Status),
			RateLimit: k.RateLimit,
			Allowlist: k.Allowlist,
			LastUsed:  k.LastUsed,
		})
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleBackup handles GET /admin/v1/backup, streaming a backup file.
func (h *Handler) handleBackup(w http.ResponseWriter, r *http.Request) {
	if h.backup == nil {
		h.writeError(w, r, http.StatusNotImplemented, "RT-SYS-5010", "storage backend does not support backup", nil)
		return
	}

	filename := "retouch-backup-" + time.Now().UTC().Format("20060102T150405Z") + ".bak"
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	bw := bufio.NewWriterSize(w, 256<<10)
	if err := h.backup.Backup(r.Context(), bw); err != nil {
		// The response may be partially written; log only.
		h.requestLogger(r).Error("backup failed", "error", err)
		return
	}
	if err := bw.Flush(); err != nil {
		h.requestLogger(r).Warn("backup stream interrupted", "error", err)
	}
}
