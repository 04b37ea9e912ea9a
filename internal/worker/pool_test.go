package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/obs/logging"
	"github.com/iaros/pricewatch/internal/ratelimit"
	"github.com/iaros/pricewatch/internal/store"
	"github.com/iaros/pricewatch/internal/worker"
)

// fakeQueue hands out a fixed slice of jobs once each, then stalls (nil,
// nil) forever, recording every Resolve call.
type fakeQueue struct {
	mu        sync.Mutex
	pending   []model.ScrapeJob
	resolved  []resolveCall
	reserveCh chan struct{}
}

type resolveCall struct {
	jobID   string
	attempt int
	outcome model.ScrapeOutcome
}

func newFakeQueue(jobs ...model.ScrapeJob) *fakeQueue {
	return &fakeQueue{pending: jobs, reserveCh: make(chan struct{}, 16)}
}

func (q *fakeQueue) Reserve(_ context.Context, _ string, _ time.Duration) (*model.ScrapeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	select {
	case q.reserveCh <- struct{}{}:
	default:
	}
	return &job, nil
}

func (q *fakeQueue) Resolve(_ context.Context, jobID string, attempt int, outcome model.ScrapeOutcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolved = append(q.resolved, resolveCall{jobID: jobID, attempt: attempt, outcome: outcome})
	return nil
}

func (q *fakeQueue) resolvedCalls() []resolveCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]resolveCall, len(q.resolved))
	copy(out, q.resolved)
	return out
}

// fakeGovernor records Acquire calls and optionally fails admission.
type fakeGovernor struct {
	mu          sync.Mutex
	acquired    []string
	released    int
	failAdmit   bool
}

func (g *fakeGovernor) Acquire(_ context.Context, host string) (ratelimit.Release, error) {
	g.mu.Lock()
	g.acquired = append(g.acquired, host)
	g.mu.Unlock()
	if g.failAdmit {
		return nil, assert.AnError
	}
	return func() {
		g.mu.Lock()
		g.released++
		g.mu.Unlock()
	}, nil
}

func (g *fakeGovernor) releaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// fakeExecutor returns a fixed outcome for every job.
type fakeExecutor struct {
	outcome model.ScrapeOutcome
}

func (e fakeExecutor) Run(_ context.Context, _ string, _ bool) model.ScrapeOutcome { return e.outcome }

// blockingExecutor closes started when Run begins, then blocks until
// unblock is closed before returning outcome. It serves a single job.
type blockingExecutor struct {
	started chan struct{}
	unblock chan struct{}
	outcome model.ScrapeOutcome
}

func (e blockingExecutor) Run(_ context.Context, _ string, _ bool) model.ScrapeOutcome {
	close(e.started)
	<-e.unblock
	return e.outcome
}

// fakeRecorder records every RecordScrapeResult call, standing in for
// store.Recorder's single-transaction tracker+history write.
type fakeRecorder struct {
	mu      sync.Mutex
	updates []store.ScrapeSummary
	points  []model.PricePoint
}

func (r *fakeRecorder) RecordScrapeResult(_ context.Context, _ string, summary store.ScrapeSummary, point *model.PricePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, summary)
	if point != nil {
		r.points = append(r.points, *point)
	}
	return nil
}

func (r *fakeRecorder) historyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

func (r *fakeRecorder) trackerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Service: "pricewatch-test"})
}

func waitForResolved(t *testing.T, q *fakeQueue, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(q.resolvedCalls()) >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d resolved jobs, got %d", n, len(q.resolvedCalls()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPool_HappyPath_AppendsHistoryAndAcksJob(t *testing.T) {
	job := model.ScrapeJob{ID: "job-1", TrackerID: "t-1", ProductID: "p-1", URL: "https://example.com/sku"}
	q := newFakeQueue(job)
	gov := &fakeGovernor{}
	rec := &fakeRecorder{}
	exec := fakeExecutor{outcome: model.ScrapeOutcome{
		Kind:   model.KindSuccess,
		Signal: model.PriceSignal{Price: decimal.NewFromFloat(19.99), Currency: "USD", Confidence: 1.0},
	}}

	p := worker.New(worker.Config{Workers: 1, VisibilityTimeout: time.Second, PollInterval: 5 * time.Millisecond}, q, gov, exec, rec, testLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForResolved(t, q, 1)

	require.Equal(t, 1, rec.historyCount())
	require.Equal(t, 1, rec.trackerCount())
	assert.True(t, rec.updates[0].Success)
	// The governor slot is released by a deferred call that runs after
	// Resolve returns, so wait briefly for it.
	assert.Eventually(t, func() bool { return gov.releaseCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.KindSuccess, q.resolvedCalls()[0].outcome.Kind)
}

func TestPool_FailureBumpsTrackerStatusAndSkipsHistory(t *testing.T) {
	job := model.ScrapeJob{ID: "job-2", TrackerID: "t-2", ProductID: "p-2", URL: "https://example.com/sku"}
	q := newFakeQueue(job)
	gov := &fakeGovernor{}
	rec := &fakeRecorder{}
	exec := fakeExecutor{outcome: model.ScrapeOutcome{Kind: model.KindTimeout, Hard: false, Detail: "deadline exceeded"}}

	p := worker.New(worker.Config{Workers: 1, VisibilityTimeout: time.Second, PollInterval: 5 * time.Millisecond}, q, gov, exec, rec, testLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForResolved(t, q, 1)

	assert.Equal(t, 0, rec.historyCount())
	require.Equal(t, 1, rec.trackerCount())
	assert.False(t, rec.updates[0].Success)
	assert.Equal(t, model.StatusNetworkError, rec.updates[0].Status)
}

func TestPool_RateLimitAdmissionFailureSkipsExecutorAndReleasesNothing(t *testing.T) {
	job := model.ScrapeJob{ID: "job-3", TrackerID: "t-3", ProductID: "p-3", URL: "https://example.com/sku"}
	q := newFakeQueue(job)
	gov := &fakeGovernor{failAdmit: true}
	rec := &fakeRecorder{}
	exec := fakeExecutor{outcome: model.ScrapeOutcome{Kind: model.KindSuccess}}

	p := worker.New(worker.Config{Workers: 1, VisibilityTimeout: time.Second, PollInterval: 5 * time.Millisecond}, q, gov, exec, rec, testLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForResolved(t, q, 1)

	assert.Equal(t, 0, rec.historyCount())
	assert.Equal(t, model.KindRateLimited, q.resolvedCalls()[0].outcome.Kind)
	assert.False(t, q.resolvedCalls()[0].outcome.Hard)
	assert.Equal(t, 0, gov.releaseCount())
}

func TestPool_StopFinishesInFlightJobBeforeExiting(t *testing.T) {
	job := model.ScrapeJob{ID: "job-4", TrackerID: "t-4", ProductID: "p-4", URL: "https://example.com/sku"}
	q := newFakeQueue(job)
	gov := &fakeGovernor{}
	rec := &fakeRecorder{}
	exec := blockingExecutor{
		started: make(chan struct{}),
		unblock: make(chan struct{}),
		outcome: model.ScrapeOutcome{Kind: model.KindSuccess, Signal: model.PriceSignal{Price: decimal.NewFromInt(1), Currency: "USD"}},
	}

	p := worker.New(worker.Config{Workers: 2, VisibilityTimeout: time.Second, PollInterval: 5 * time.Millisecond}, q, gov, exec, rec, testLogger())
	p.Start()

	// Stop is requested while the job is still running; the worker must
	// finish and resolve it before Stop returns.
	<-exec.started
	time.AfterFunc(20*time.Millisecond, func() { close(exec.unblock) })

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(stopCtx)

	assert.Equal(t, 1, len(q.resolvedCalls()))
}
