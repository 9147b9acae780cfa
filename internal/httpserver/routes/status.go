package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/mw"
)

func init() { Register("status", registerStatus) }

func registerStatus(r chi.Router, d deps.Deps) {
	allow := mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)

	r.With(allow).Get("/status", handlers.Status(d))
	if d.Metrics != nil {
		r.With(allow).Handle("/metrics", d.Metrics.Handler())
	}
}
