// Package worker implements the Worker Pool (spec.md §4.8): a fixed pool
// of concurrent loops, each reserving a job, bounding it by a rate-governor
// admission and a deadline, running the Scrape Executor, and reconciling
// the result into the Price History Store, the Competitor Tracker Store
// and the Job Queue. Grounded on the teacher's goroutine-per-task pool
// idiom (common/libraries/go/iaros-core) generalized from HTTP request
// handling to scrape-job execution.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/obs/logging"
	"github.com/iaros/pricewatch/internal/ratelimit"
	"github.com/iaros/pricewatch/internal/store"
)

// JobSource is the subset of queue.Queue the pool needs: reserve a job,
// then resolve it according to the outcome.
type JobSource interface {
	Reserve(ctx context.Context, workerID string, visibilityTimeout time.Duration) (*model.ScrapeJob, error)
	Resolve(ctx context.Context, jobID string, attempt int, outcome model.ScrapeOutcome) error
}

// RateGovernor is the subset of ratelimit.Governor the pool needs.
type RateGovernor interface {
	Acquire(ctx context.Context, host string) (ratelimit.Release, error)
}

// ScrapeRunner is the subset of scrape.Executor the pool needs.
type ScrapeRunner interface {
	Run(ctx context.Context, rawURL string, allowBrowserFallback bool) model.ScrapeOutcome
}

// ResultRecorder is the subset of store.Recorder the pool needs: the
// tracker update and (on success) the PricePoint append committed
// atomically, per spec.md §4.8/§5.
type ResultRecorder interface {
	RecordScrapeResult(ctx context.Context, trackerID string, summary store.ScrapeSummary, point *model.PricePoint) error
}

// Config governs pool size and timing.
type Config struct {
	Workers           int
	VisibilityTimeout time.Duration
	JobDeadline       time.Duration // 0 falls back to VisibilityTimeout
	PollInterval      time.Duration // backoff between empty Reserve calls, 0 defaults to 1s
}

// Pool is the Worker Pool (spec.md §4.8).
type Pool struct {
	cfg      Config
	queue    JobSource
	governor RateGovernor
	executor ScrapeRunner
	recorder ResultRecorder
	log      *logging.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

func New(cfg Config, queue JobSource, governor RateGovernor, executor ScrapeRunner, recorder ResultRecorder, log *logging.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		governor: governor,
		executor: executor,
		recorder: recorder,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches cfg.Workers loop goroutines. Start must be called once.
func (p *Pool) Start() {
	n := p.cfg.Workers
	if n <= 0 {
		n = 1
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		go p.loop(workerID)
	}
}

// Stop signals every worker to finish its current job and exit before
// reserving the next (spec.md §4.8's cancellation rule), then waits for
// them, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) {
	close(p.stop)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (p *Pool) loop(workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		job, err := p.queue.Reserve(context.Background(), workerID, p.cfg.VisibilityTimeout)
		if err != nil {
			p.log.WithError(err).Error("worker: reserve job")
			p.idle()
			continue
		}
		if job == nil {
			p.idle()
			continue
		}

		p.runJob(workerID, *job)
	}
}

// idle waits out one poll interval, or returns early on shutdown.
func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval()):
	case <-p.stop:
	}
}

func (p *Pool) pollInterval() time.Duration {
	if p.cfg.PollInterval > 0 {
		return p.cfg.PollInterval
	}
	return time.Second
}

func (p *Pool) jobDeadline() time.Duration {
	if p.cfg.JobDeadline > 0 {
		return p.cfg.JobDeadline
	}
	return p.cfg.VisibilityTimeout
}

// runJob drives one reserved job end-to-end, releasing its rate-governor
// slot and resolving it against the Job Queue on every exit path.
func (p *Pool) runJob(workerID string, job model.ScrapeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobDeadline())
	defer cancel()

	release, err := p.governor.Acquire(ctx, hostOf(job.URL))
	if err != nil {
		// Admission wait exceeded its bound: a synthetic RATE_LIMITED
		// SoftFail, per spec.md §4.7, so the job is rescheduled later.
		p.finish(ctx, job, model.ScrapeOutcome{Kind: model.KindRateLimited, Detail: err.Error(), Hard: false})
		return
	}
	defer release()

	outcome := p.executor.Run(ctx, job.URL, job.AllowBrowserFallback)
	p.finish(ctx, job, outcome)
}

// finish applies the tracker/history/queue reconciliation in spec.md §4.8:
// on success, the tracker update and the PricePoint append commit in one
// transaction (§5: both must be observable together); otherwise the tracker
// update alone bumps the failure streak. Either way the queue's retry
// policy runs last.
func (p *Pool) finish(ctx context.Context, job model.ScrapeJob, outcome model.ScrapeOutcome) {
	fields := map[string]interface{}{"tracker_id": job.TrackerID, "job_id": job.ID}

	var point *model.PricePoint
	if outcome.Success() {
		point = &model.PricePoint{
			ProductID:      job.ProductID,
			TrackerID:      job.TrackerID,
			CompetitorName: job.CompetitorName,
			Price:          outcome.Signal.Price,
			Currency:       outcome.Signal.Currency,
			CapturedAt:     time.Now().UTC(),
			Source:         outcome.Signal.ExtractedFrom,
			AdapterID:      outcome.Signal.AdapterID,
		}
	}

	if err := p.recorder.RecordScrapeResult(ctx, job.TrackerID, toSummary(outcome), point); err != nil {
		p.log.WithError(err).WithFields(fields).Error("worker: record scrape result")
	}

	if err := p.queue.Resolve(ctx, job.ID, job.Attempt, outcome); err != nil {
		p.log.WithError(err).WithFields(fields).Error("worker: resolve job")
	}
}

// toSummary projects a ScrapeOutcome down to the shape store.TrackerStore
// needs, decoupling the two packages' change cadence.
func toSummary(outcome model.ScrapeOutcome) store.ScrapeSummary {
	if outcome.Success() {
		price := outcome.Signal.Price
		return store.ScrapeSummary{
			Success:  true,
			Price:    &price,
			Currency: outcome.Signal.Currency,
			Status:   model.StatusOK,
		}
	}
	return store.ScrapeSummary{Success: false, Status: statusForOutcome(outcome.Kind)}
}

func statusForOutcome(kind model.OutcomeKind) model.TrackerStatus {
	switch kind {
	case model.KindBlocked, model.KindDomainBlocked:
		return model.StatusBlocked
	case model.KindNetworkError, model.KindTimeout, model.KindRateLimited, model.KindBrowserError:
		return model.StatusNetworkError
	default:
		return model.StatusExtractionFailed
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
