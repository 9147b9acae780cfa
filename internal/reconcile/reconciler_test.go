package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/fetch"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/notify"
	"github.com/MrSnakeDoc/toposync/internal/store/memory"
)

type fakeFetcher struct {
	mu       sync.Mutex
	docs     map[string]string
	errs     map[string]error
	creds    map[string]*domain.TrustCredential
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:  make(map[string]string),
		errs:  make(map[string]error),
		creds: make(map[string]*domain.TrustCredential),
	}
}

func (f *fakeFetcher) set(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = body
	delete(f.errs, id)
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) Fetch(_ context.Context, ep domain.Endpoint, cred *domain.TrustCredential) (*domain.TopologyDocument, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.creds[ep.ID] = cred
	body, ok := f.docs[ep.ID]
	err := f.errs[ep.ID]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindTransport, EndpointID: ep.ID, Err: errors.New("connection refused")}
	}
	return domain.ParseTopology(strings.NewReader(body))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type recordingPurger struct {
	calls []time.Time
}

func (p *recordingPurger) PurgeBefore(t time.Time) int {
	p.calls = append(p.calls, t)
	return 0
}

type harness struct {
	store    *memory.Store
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	purger   *recordingPurger
	clock    *clock.Mock
	rec      *Reconciler
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		fetcher:  newFakeFetcher(),
		notifier: &recordingNotifier{},
		purger:   &recordingPurger{},
		clock:    clock.NewMock(),
	}
	h.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for _, id := range ids {
		require.NoError(t, h.store.SaveEndpoint(context.Background(), domain.Endpoint{
			ID:   id,
			URI:  "http://" + id + ".example/api",
			Kind: domain.KindDirect,
		}))
	}
	h.rec = New(h.store, h.fetcher, h.purger, h.notifier, logger.Nop(), Options{Workers: 2, Clock: h.clock})
	return h
}

func (h *harness) endpoint(t *testing.T, id string) *domain.Endpoint {
	t.Helper()
	ep, err := h.store.GetEndpoint(context.Background(), id)
	require.NoError(t, err)
	return ep
}

const docA = `{"elements":[{"sni":"a.example","si":"10.0.0.1","sp":"443"},{"sni":"","si":"10.1.1.1","sp":"8080"}]}`

func TestSweep_FirstSweepInsertsAndNotifiesOnce(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.fetcher.set("a", docA)
	h.fetcher.set("b", `{"elements":[{"sni":"b.example","si":"10.0.0.2","sp":"80"}]}`)

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Endpoints)
	assert.Equal(t, 2, report.Available)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 2, report.AvailabilityChanges)
	assert.Equal(t, []string{"a", "b"}, report.ChangedEndpoints)
	assert.True(t, report.Notified)
	require.Equal(t, 1, h.notifier.count(), "exactly one notification per changed sweep")
	assert.Equal(t, notify.DefaultTopic, h.notifier.events[0].Topic)
	assert.Equal(t, report.SweepID, h.notifier.events[0].SweepID)

	records, err := h.store.ListRecords(context.Background(), "a")
	require.NoError(t, err)
	assert.Contains(t, records, domain.ServiceRecord{ServerName: "empty", ServiceIP: "10.1.1.1", ServicePort: 8080, EndpointID: "a"})
	assert.True(t, h.endpoint(t, "a").Available)
}

func TestSweep_IdenticalSweepIsSilent(t *testing.T) {
	h := newHarness(t, "a")
	h.fetcher.set("a", docA)

	_, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, h.notifier.count())

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)
	assert.False(t, report.Changed())
	assert.False(t, report.Notified)
	assert.Equal(t, 1, h.notifier.count(), "an unchanged sweep must not notify")
	assert.Equal(t, 2, h.store.Count())
}

func TestSweep_AvailabilityTransitionAloneNotifies(t *testing.T) {
	h := newHarness(t, "a")
	h.fetcher.set("a", docA)
	_, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	h.fetcher.fail("a", &fetch.Error{Kind: fetch.KindTransport, EndpointID: "a", Err: errors.New("timeout")})
	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Inserted)
	assert.Equal(t, 1, report.AvailabilityChanges)
	assert.Equal(t, fetch.KindTransport, report.Failures["a"])
	assert.Equal(t, 2, h.notifier.count())
	assert.False(t, h.endpoint(t, "a").Available)

	records, err := h.store.ListRecords(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, records, 2, "records are never removed")
}

func TestSweep_FailureOfOneEndpointDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.fetcher.set("a", docA)
	h.fetcher.fail("b", &fetch.Error{Kind: fetch.KindValidation, EndpointID: "b", Err: errors.New("rejected")})
	h.fetcher.set("c", `not json`)

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Available)
	assert.Equal(t, fetch.KindValidation, report.Failures["b"])
	assert.Equal(t, fetch.KindTransport, report.Failures["c"], "foreign errors default to transport")
	assert.True(t, h.endpoint(t, "a").Available)
	assert.False(t, h.endpoint(t, "b").Available)
	assert.False(t, h.endpoint(t, "c").Available)
}

func TestSweep_PersistenceFailureIsIsolated(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.fetcher.set("a", docA)
	h.fetcher.set("b", docA)
	h.store.FailCommit = func(id string) error {
		if id == "b" {
			return fmt.Errorf("write refused")
		}
		return nil
	}

	report, err := h.rec.Sweep(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), "endpoint b")

	require.NotNil(t, report)
	assert.Equal(t, []string{"a"}, report.ChangedEndpoints)
	assert.Equal(t, 1, h.notifier.count(), "the successful endpoint still triggers the notification")
	assert.True(t, h.endpoint(t, "a").Available)
	assert.False(t, h.endpoint(t, "b").Available)

	records, _ := h.store.ListRecords(context.Background(), "b")
	assert.Empty(t, records)
}

func TestSweep_NotificationFailureIsReported(t *testing.T) {
	h := newHarness(t, "a")
	h.fetcher.set("a", docA)
	h.notifier.err = errors.New("broker down")

	report, err := h.rec.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.False(t, report.Notified)
	assert.Equal(t, 2, h.store.Count(), "commits stand even when the notification fails")
}

func TestSweep_CredentialIsPassedThrough(t *testing.T) {
	h := newHarness(t, "a", "b")
	require.NoError(t, h.store.SaveCredential(context.Background(), domain.TrustCredential{
		EndpointID: "a", CARoot: []byte("ca"), ClientBundle: []byte("bundle"),
	}))
	h.fetcher.set("a", docA)
	h.fetcher.set("b", docA)

	_, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	require.NotNil(t, h.fetcher.creds["a"])
	assert.Equal(t, []byte("ca"), h.fetcher.creds["a"].CARoot)
	assert.Nil(t, h.fetcher.creds["b"], "an absent credential is not an error")
}

func TestSweep_PurgesTokensAtEnd(t *testing.T) {
	h := newHarness(t, "a")
	h.fetcher.set("a", docA)

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, h.purger.calls, 1)
	assert.Equal(t, report.FinishedAt, h.purger.calls[0])
}

func TestSweep_RespectsWorkerLimit(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("ep-%02d", i)
	}
	h := newHarness(t, ids...)
	h.fetcher.delay = 5 * time.Millisecond
	for _, id := range ids {
		h.fetcher.set(id, `{"elements":[]}`)
	}

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, report.Available)
	assert.LessOrEqual(t, h.fetcher.maxSeen.Load(), int32(2))
}

func TestSweep_EmptyDocumentMarksAvailable(t *testing.T) {
	h := newHarness(t, "a")
	h.fetcher.set("a", `{"elements":[]}`)

	report, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AvailabilityChanges)
	assert.Zero(t, report.Inserted)
	assert.True(t, h.endpoint(t, "a").Available)
}

type failingList struct{ *memory.Store }

func (failingList) ListEndpoints(context.Context) ([]domain.Endpoint, error) {
	return nil, errors.New("store offline")
}

func TestSweep_ListFailureAborts(t *testing.T) {
	h := newHarness(t, "a")
	rec := New(failingList{h.store}, h.fetcher, h.purger, h.notifier, logger.Nop(), Options{Clock: h.clock})

	report, err := rec.Sweep(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Zero(t, h.notifier.count())
	assert.Len(t, h.purger.calls, 1)
}
