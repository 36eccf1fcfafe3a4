package handler

import (
	"log/slog"
	"net/http"
)

const adminPasswordHeader = "X-Admin-Password"

// requireAdmin is middleware that checks the admin password. It is read from
// the X-Admin-Password header, falling back to the password query parameter.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		password := r.Header.Get(adminPasswordHeader)
		if password == "" {
			password = r.URL.Query().Get("password")
		}
		if !h.settings.CheckAdminPassword(r.Context(), password) {
			slog.Warn("admin password rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
