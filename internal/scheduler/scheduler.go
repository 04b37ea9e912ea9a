// Package scheduler implements the Scheduler (spec.md §4.6): a periodic
// tick that enqueues ScrapeJobs for due trackers, following the teacher's
// distribution_service composition of a cron tick over db+redis state.
package scheduler

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/iaros/pricewatch/internal/apperr"
	"github.com/iaros/pricewatch/internal/config"
	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/obs/logging"
	"github.com/iaros/pricewatch/internal/queue"
	"github.com/iaros/pricewatch/internal/store"
)

// tickBatchSize bounds how many due trackers one tick will enqueue, so a
// large backlog spreads across several ticks instead of flooding the queue.
const tickBatchSize = 500

// marker tracks which trackers have an outstanding job, so the scheduler
// never enqueues two concurrent jobs for the same tracker (spec.md §4.6).
// It is satisfied by redis when configured and by an in-process go-cache
// fallback otherwise.
type marker interface {
	TryMark(ctx context.Context, trackerID string, ttl time.Duration) (bool, error)
}

type redisMarker struct {
	client *redis.Client
}

func (m redisMarker) TryMark(ctx context.Context, trackerID string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, inFlightKey(trackerID), "1", ttl).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "scheduler.redisMarker.TryMark", "setnx in-flight marker", true, err)
	}
	return ok, nil
}

func inFlightKey(trackerID string) string { return "pricewatch:inflight:" + trackerID }

// localMarker is the no-redis fallback named in SPEC_FULL.md: a
// process-local TTL cache standing in for the distributed marker.
type localMarker struct {
	c *gocache.Cache
}

func newLocalMarker() *localMarker {
	return &localMarker{c: gocache.New(time.Minute, 2 * time.Minute)}
}

func (m *localMarker) TryMark(_ context.Context, trackerID string, ttl time.Duration) (bool, error) {
	if _, found := m.c.Get(trackerID); found {
		return false, nil
	}
	m.c.Set(trackerID, struct{}{}, ttl)
	return true, nil
}

// Scheduler drives the periodic tick named in spec.md §4.6 and exposes an
// on-demand enqueue path for manual jobs.
type Scheduler struct {
	cron     *cron.Cron
	trackers *store.TrackerStore
	queue    *queue.Queue
	marker   marker
	cfg      config.SchedulerConfig
	log      *logging.Logger
}

// New wires a Scheduler. redisClient may be nil, in which case the
// in-flight marker falls back to an in-process cache.
func New(trackers *store.TrackerStore, q *queue.Queue, redisClient *redis.Client, cfg config.SchedulerConfig, log *logging.Logger) *Scheduler {
	var m marker
	if redisClient != nil {
		m = redisMarker{client: redisClient}
	} else {
		m = newLocalMarker()
	}
	return &Scheduler{
		cron:     cron.New(),
		trackers: trackers,
		queue:    q,
		marker:   m,
		cfg:      cfg,
		log:      log,
	}
}

// Start registers the tick and begins running it in the background.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval.String())
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return apperr.Wrap(apperr.Internal, "scheduler.Start", "register tick schedule", false, err)
	}
	s.cron.Start()
	return nil
}

// Stop cancels the cron tick, waiting for any in-flight tick to finish or
// ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickInterval)
	defer cancel()

	due, err := s.trackers.ListDue(ctx, time.Now().UTC(), s.cfg.DefaultInterval, tickBatchSize)
	if err != nil {
		s.log.WithError(err).Error("scheduler tick: list due trackers")
		return
	}

	for _, t := range due {
		if err := s.considerTracker(ctx, t, model.OriginScheduled); err != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{"tracker_id": t.ID}).Warn("scheduler tick: enqueue due tracker")
		}
	}
}

// considerTracker applies the terminal-DEAD rule, then the in-flight
// marker check, then enqueues origin for t if both pass.
func (s *Scheduler) considerTracker(ctx context.Context, t model.CompetitorTracker, origin model.JobOrigin) error {
	if isFailureStreakExceeded(t, s.cfg.FailureStreakLimit) {
		return s.trackers.MarkDead(ctx, t.ID)
	}

	marked, err := s.marker.TryMark(ctx, t.ID, s.cfg.InFlightTTL)
	if err != nil {
		return err
	}
	if !marked {
		return nil // an outstanding job's visibility has not expired yet
	}

	job := model.ScrapeJob{
		TrackerID:            t.ID,
		ProductID:            t.ProductID,
		CompetitorName:       t.CompetitorName,
		URL:                  t.CanonicalURL,
		AllowBrowserFallback: true,
		Origin:               origin,
	}
	_, err = s.queue.Enqueue(ctx, job, nil)
	return err
}

// isFailureStreakExceeded reports whether t has hit the terminal-DEAD
// threshold, per spec.md §4.6.
func isFailureStreakExceeded(t model.CompetitorTracker, limit int) bool {
	return t.FailureStreak >= limit
}

// EnqueueManual enqueues an on-demand job for t, bypassing the interval
// check but still respecting the in-flight marker and the DEAD rule, per
// spec.md §4.6: "On-demand jobs bypass the interval check but respect the
// in-flight marker."
func (s *Scheduler) EnqueueManual(ctx context.Context, t model.CompetitorTracker) (bool, error) {
	if t.LastStatus == model.StatusDead {
		return false, apperr.NewInvalidInput("scheduler.EnqueueManual", "tracker is DEAD; revive before enqueuing")
	}

	marked, err := s.marker.TryMark(ctx, t.ID, s.cfg.InFlightTTL)
	if err != nil {
		return false, err
	}
	if !marked {
		return false, nil
	}

	job := model.ScrapeJob{
		TrackerID:            t.ID,
		ProductID:            t.ProductID,
		CompetitorName:       t.CompetitorName,
		URL:                  t.CanonicalURL,
		AllowBrowserFallback: true,
		Origin:               model.OriginManual,
	}
	if _, err := s.queue.Enqueue(ctx, job, nil); err != nil {
		return false, err
	}
	return true, nil
}
