package deps

import (
	"time"

	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/metrics"
	"github.com/MrSnakeDoc/toposync/internal/reconcile"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// Scheduler is the view of the sweep scheduler the admin surface needs.
type Scheduler interface {
	Trigger() bool
	Running() bool
	Skipped() int64
	Interval() time.Duration
	Last() *reconcile.Report
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedHosts []string         // Host headers allowed to access the admin routes
	AllowedCIDRS []string         // IPs allowed to access readyz, status, metrics and reload
	TrustProxy   bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Store        store.Store      // endpoint and record store
	Scheduler    Scheduler        // sweep scheduler
	Metrics      *metrics.Metrics // nil disables /metrics
	CatalogFile  string           // provisioning file, empty if none
}

// Now returns TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
