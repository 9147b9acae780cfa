// Package reconcile runs one sweep: fetch every endpoint, commit what was
// learned, and announce the sweep once if anything changed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/fetch"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/metrics"
	"github.com/MrSnakeDoc/toposync/internal/notify"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// DefaultWorkers bounds concurrent fetches.
const DefaultWorkers = 4

// Fetcher retrieves the topology of one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, ep domain.Endpoint, cred *domain.TrustCredential) (*domain.TopologyDocument, error)
}

// TokenPurger drops connection tokens registered up to a point in time.
type TokenPurger interface {
	PurgeBefore(t time.Time) int
}

// Backend is the part of store.Store a sweep touches.
type Backend interface {
	ListEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	GetCredential(ctx context.Context, endpointID string) (*domain.TrustCredential, error)
	Commit(ctx context.Context, c store.Commit) (store.CommitResult, error)
}

// Options tunes a Reconciler.
type Options struct {
	Workers int
	Topic   string
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Reconciler owns the sweep algorithm. It is safe to call Sweep
// concurrently, though the scheduler never does.
type Reconciler struct {
	backend  Backend
	fetcher  Fetcher
	purger   TokenPurger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   logger.Logger
	workers  int
	topic    string
}

// New creates a Reconciler.
func New(backend Backend, fetcher Fetcher, purger TokenPurger, notifier notify.Notifier, log logger.Logger, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Topic == "" {
		opts.Topic = notify.DefaultTopic
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Reconciler{
		backend:  backend,
		fetcher:  fetcher,
		purger:   purger,
		notifier: notifier,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		logger:   log,
		workers:  opts.Workers,
		topic:    opts.Topic,
	}
}

// Sweep reconciles every endpoint once.
//
// A failing endpoint never stops the sweep: fetch failures become
// available=false, commit failures are collected in the report. The
// returned error aggregates commit and notification failures; the report
// is returned in every case except a failed endpoint listing.
func (r *Reconciler) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{
		SweepID:   uuid.NewString(),
		StartedAt: r.clock.Now(),
		Failures:  make(map[string]fetch.Kind),
	}
	log := r.logger.With(logger.String("sweep_id", report.SweepID))

	endpoints, err := r.backend.ListEndpoints(ctx)
	if err != nil {
		r.finish(report)
		r.metrics.ObserveSweep(metrics.SweepFailed, report.Duration(), report.FinishedAt)
		log.Error("sweep aborted: cannot list endpoints", logger.Error(err))
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	report.Endpoints = len(endpoints)

	log.Info("sweep started", logger.Int("endpoints", len(endpoints)), logger.Int("workers", r.workers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			out := r.reconcileOne(gctx, log, ep)
			mu.Lock()
			report.add(out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.finish(report)

	if report.Changed() {
		report.Err = multierr.Append(report.Err, r.announce(ctx, log, report))
	}

	r.metrics.SetEndpoints(report.Available, report.Endpoints-report.Available)
	r.metrics.ObserveSweep(report.result(), report.Duration(), report.FinishedAt)

	log.Info("sweep finished",
		logger.Int("endpoints", report.Endpoints),
		logger.Int("available", report.Available),
		logger.Int("inserted", report.Inserted),
		logger.Int("availability_changes", report.AvailabilityChanges),
		logger.Int("fetch_failures", len(report.Failures)),
		logger.Int("commit_failures", len(multierr.Errors(report.Err))),
		logger.Bool("notified", report.Notified),
		logger.Duration("elapsed", report.Duration()))

	return report, report.Err
}

// finish stamps the end of the sweep and releases tokens registered so far.
func (r *Reconciler) finish(report *Report) {
	report.FinishedAt = r.clock.Now()
	if r.purger != nil {
		if n := r.purger.PurgeBefore(report.FinishedAt); n > 0 {
			r.logger.Debug("purged stale connection tokens", logger.Int("count", n))
		}
	}
}

type outcome struct {
	endpointID string
	fetchKind  fetch.Kind
	available  bool
	result     store.CommitResult
	err        error
}

func (r *Reconciler) reconcileOne(ctx context.Context, log logger.Logger, ep domain.Endpoint) (out outcome) {
	out.endpointID = ep.ID
	log = log.With(logger.String("endpoint_id", ep.ID))

	defer func() {
		if p := recover(); p != nil {
			out.err = fmt.Errorf("endpoint %s: panic: %v", ep.ID, p)
			log.Error("endpoint reconciliation panicked", logger.Error(out.err))
		}
	}()

	cred, err := r.backend.GetCredential(ctx, ep.ID)
	if err != nil {
		out.err = fmt.Errorf("endpoint %s: credential lookup: %w", ep.ID, err)
		log.Error("credential lookup failed, endpoint skipped", logger.Error(err))
		return out
	}

	start := r.clock.Now()
	doc, ferr := r.fetcher.Fetch(ctx, ep, cred)
	elapsed := r.clock.Since(start)

	commit := store.Commit{EndpointID: ep.ID, At: r.clock.Now()}
	if ferr == nil {
		commit.Available = true
		commit.Records = doc.Records(ep.ID)
		r.metrics.ObserveFetch("ok", elapsed)
	} else {
		out.fetchKind = fetch.KindOf(ferr)
		r.metrics.ObserveFetch(string(out.fetchKind), elapsed)
		r.logFetchFailure(log, out.fetchKind, ferr)
	}
	out.available = commit.Available

	res, err := r.backend.Commit(ctx, commit)
	if err != nil {
		out.err = fmt.Errorf("endpoint %s: %w", ep.ID, err)
		log.Error("commit failed", logger.Error(err))
		return out
	}
	out.result = res
	r.metrics.RecordsInserted(res.Inserted)

	log.Debug("endpoint reconciled",
		logger.Bool("available", commit.Available),
		logger.Int("records", len(commit.Records)),
		logger.Int("inserted", res.Inserted),
		logger.Bool("availability_changed", res.AvailabilityChanged))
	return out
}

func (r *Reconciler) logFetchFailure(log logger.Logger, kind fetch.Kind, err error) {
	fields := []logger.Field{logger.String("kind", string(kind)), logger.Error(err)}
	switch kind {
	case fetch.KindCredentialMissing:
		log.Info("tls endpoint has no credential, marked unavailable", fields...)
	case fetch.KindValidation:
		log.Warn("server certificate rejected", fields...)
	default:
		log.Warn("fetch failed", fields...)
	}
}

func (r *Reconciler) announce(ctx context.Context, log logger.Logger, report *Report) error {
	if r.notifier == nil {
		return nil
	}

	ev := notify.Event{
		Topic:               r.topic,
		SweepID:             report.SweepID,
		At:                  report.FinishedAt,
		Inserted:            report.Inserted,
		AvailabilityChanges: report.AvailabilityChanges,
		Endpoints:           report.ChangedEndpoints,
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.metrics.Notification(false)
		log.Error("change notification failed", logger.String("topic", r.topic), logger.Error(err))
		return fmt.Errorf("notify %s: %w", r.topic, err)
	}

	report.Notified = true
	r.metrics.Notification(true)
	return nil
}

// Report summarises one sweep.
type Report struct {
	SweepID             string
	StartedAt           time.Time
	FinishedAt          time.Time
	Endpoints           int
	Available           int
	Inserted            int
	AvailabilityChanges int
	ChangedEndpoints    []string
	Failures            map[string]fetch.Kind // endpoint ID -> fetch failure kind
	Notified            bool
	Err                 error
}

// Changed reports whether any commit of the sweep modified state.
func (r *Report) Changed() bool {
	return r.Inserted > 0 || r.AvailabilityChanges > 0
}

// Duration is the wall time of the sweep.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) add(o outcome) {
	if o.fetchKind != fetch.KindNone {
		r.Failures[o.endpointID] = o.fetchKind
	}
	if o.err != nil {
		r.Err = multierr.Append(r.Err, o.err)
		return
	}
	if o.available {
		r.Available++
	}
	r.Inserted += o.result.Inserted
	if o.result.AvailabilityChanged {
		r.AvailabilityChanges++
	}
	if o.result.Changed() {
		i := sort.SearchStrings(r.ChangedEndpoints, o.endpointID)
		r.ChangedEndpoints = append(r.ChangedEndpoints, "")
		copy(r.ChangedEndpoints[i+1:], r.ChangedEndpoints[i:])
		r.ChangedEndpoints[i] = o.endpointID
	}
}

func (r *Report) result() string {
	switch {
	case r.Err != nil && errors.Is(r.Err, context.Canceled):
		return metrics.SweepFailed
	case r.Err != nil:
		return metrics.SweepPartial
	case r.Changed():
		return metrics.SweepChanged
	default:
		return metrics.SweepUnchanged
	}
}
