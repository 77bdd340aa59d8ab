// Package api assembles the HTTP routing for the delivery service.
// Handlers live in the handlers subpackage; ops endpoints (metrics,
// docs, health) are mounted by the app, not here.
package api

import (
	"github.com/gorilla/mux"

	"chatrelay/pkg/api/handlers"
	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
)

// New builds the application router: the long-poll surface under
// /poll, the producer endpoints under /v1 and the admin endpoints.
func New(hub *delivery.Hub, cfg config.DeliveryConfig, j handlers.Janitor) *mux.Router {
	r := mux.NewRouter()
	handlers.RegisterPoll(r, hub, cfg)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterMessages(v1, hub)
	handlers.RegisterSocial(v1, hub)

	if j != nil {
		handlers.RegisterAdmin(r, j)
	}
	return r
}
