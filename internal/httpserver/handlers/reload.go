package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/logger"
)

// Reload asks the scheduler for an immediate sweep. A sweep already running
// or already queued answers 429.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Scheduler.Running() || !d.Scheduler.Trigger() {
			d.Logger.Warn("sweep already in progress",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("⏳ Sweep already in progress, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
			return
		}

		d.Logger.Info("manual sweep triggered via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte("✅ Sweep triggered successfully\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}
