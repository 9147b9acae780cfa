package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

type endpointsResponse struct {
	Count     int               `json:"count"`
	Endpoints []domain.Endpoint `json:"endpoints"`
}

type recordsResponse struct {
	EndpointID string                 `json:"endpoint_id"`
	Count      int                    `json:"count"`
	Records    []domain.ServiceRecord `json:"records"`
}

// ListEndpoints returns every registered endpoint with its availability.
func ListEndpoints(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoints, err := d.Store.ListEndpoints(r.Context())
		if err != nil {
			d.Logger.Error("failed to list endpoints", logger.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		if endpoints == nil {
			endpoints = []domain.Endpoint{}
		}
		writeJSON(w, http.StatusOK, endpointsResponse{Count: len(endpoints), Endpoints: endpoints})
	}
}

// GetEndpoint returns one endpoint.
func GetEndpoint(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep, ok := lookupEndpoint(w, r, d)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ep)
	}
}

// ListRecords returns the records learned from one endpoint.
func ListRecords(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep, ok := lookupEndpoint(w, r, d)
		if !ok {
			return
		}

		records, err := d.Store.ListRecords(r.Context(), ep.ID)
		if err != nil {
			d.Logger.Error("failed to list records",
				logger.String("endpoint_id", ep.ID),
				logger.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		if records == nil {
			records = []domain.ServiceRecord{}
		}
		writeJSON(w, http.StatusOK, recordsResponse{EndpointID: ep.ID, Count: len(records), Records: records})
	}
}

func lookupEndpoint(w http.ResponseWriter, r *http.Request, d deps.Deps) (*domain.Endpoint, bool) {
	id := chi.URLParam(r, "id")
	ep, err := d.Store.GetEndpoint(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
		return nil, false
	case err != nil:
		d.Logger.Error("failed to load endpoint",
			logger.String("endpoint_id", id),
			logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return nil, false
	}
	return ep, true
}
