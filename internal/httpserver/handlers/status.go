package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/reconcile"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type sweepSummary struct {
	SweepID             string            `json:"sweep_id"`
	StartedAt           time.Time         `json:"started_at"`
	FinishedAt          time.Time         `json:"finished_at"`
	DurationSeconds     float64           `json:"duration_seconds"`
	Endpoints           int               `json:"endpoints"`
	Available           int               `json:"available"`
	Inserted            int               `json:"inserted"`
	AvailabilityChanges int               `json:"availability_changes"`
	ChangedEndpoints    []string          `json:"changed_endpoints,omitempty"`
	Failures            map[string]string `json:"failures,omitempty"`
	Notified            bool              `json:"notified"`
	Error               string            `json:"error,omitempty"`
}

type schedulerStatus struct {
	Running         bool          `json:"running"`
	Skipped         int64         `json:"skipped"`
	IntervalSeconds float64       `json:"interval_seconds"`
	LastSweep       *sweepSummary `json:"last_sweep,omitempty"`
}

type statusResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
	Scheduler  schedulerStatus            `json:"scheduler"`
}

// Status reports the store, the catalog and the outcome of the last sweep.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := d.Scheduler.Last()

		components := map[string]componentStatus{
			"store":   checkStore(r.Context(), d),
			"sweeper": sweeperStatus(last),
		}
		if d.CatalogFile != "" {
			components["catalog"] = componentStatus{OK: true, Mode: "watching"}
		} else {
			components["catalog"] = componentStatus{OK: true, Mode: "disabled"}
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Mode:       determineMode(components),
			Components: components,
			Scheduler: schedulerStatus{
				Running:         d.Scheduler.Running(),
				Skipped:         d.Scheduler.Skipped(),
				IntervalSeconds: d.Scheduler.Interval().Seconds(),
				LastSweep:       summarize(last),
			},
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if store, ok := components["store"]; ok && !store.OK {
		return "critical" // nothing can be committed
	}
	for _, c := range components {
		if !c.OK {
			return "degraded"
		}
	}
	return "ok"
}

func checkStore(ctx context.Context, d deps.Deps) componentStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Impact: "sweeps-cannot-commit",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true}
}

func sweeperStatus(last *reconcile.Report) componentStatus {
	switch {
	case last == nil:
		return componentStatus{OK: true, Mode: "pending"}
	case last.Err != nil:
		return componentStatus{OK: false, Mode: "partial", Impact: "some-endpoints-not-committed", Error: last.Err.Error()}
	default:
		return componentStatus{OK: true, Mode: "complete"}
	}
}

func summarize(r *reconcile.Report) *sweepSummary {
	if r == nil {
		return nil
	}
	s := &sweepSummary{
		SweepID:             r.SweepID,
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
		DurationSeconds:     r.Duration().Seconds(),
		Endpoints:           r.Endpoints,
		Available:           r.Available,
		Inserted:            r.Inserted,
		AvailabilityChanges: r.AvailabilityChanges,
		ChangedEndpoints:    r.ChangedEndpoints,
		Notified:            r.Notified,
	}
	if len(r.Failures) > 0 {
		s.Failures = make(map[string]string, len(r.Failures))
		for id, kind := range r.Failures {
			s.Failures[id] = string(kind)
		}
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}
