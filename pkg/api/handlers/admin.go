package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// Janitor is the slice of the janitor the admin surface needs.
type Janitor interface {
	RunNow() (expiredSessions, purgedEntries, purgedNotifications int)
}

// RegisterAdmin mounts the operational endpoints.
func RegisterAdmin(r *mux.Router, j Janitor) {
	r.HandleFunc("/admin/janitor/run", func(w http.ResponseWriter, req *http.Request) {
		expired, entries, notifs := j.RunNow()
		logger.Info("janitor_run_requested", "expired", expired, "entries", entries, "notifications", notifs)
		_ = utils.JSONSuccess(w, map[string]int{
			"expiredSessions":     expired,
			"purgedEntries":       entries,
			"purgedNotifications": notifs,
		})
	}).Methods(http.MethodPost)
}
