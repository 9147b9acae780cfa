package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/mw"
)

func init() { Register("endpoints", registerEndpoints) }

func registerEndpoints(r chi.Router, d deps.Deps) {
	r.Route("/endpoints", func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))

		r.Get("/", handlers.ListEndpoints(d))
		r.Get("/{id}", handlers.GetEndpoint(d))
		r.Get("/{id}/records", handlers.ListRecords(d))
	})
}
