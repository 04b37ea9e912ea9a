package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iaros/pricewatch/internal/apperr"
	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/obs/metrics"
)

// AutoMigrate creates/updates this package's own schema (jobs, dlq), kept
// separate from store.AutoMigrate since the Job Queue owns its rows per
// spec.md §3's ownership note.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&JobRow{}, &DeadLetterRow{})
}

// Queue is the durable, gorm-backed Job Queue (spec.md §4.5).
type Queue struct {
	db      *gorm.DB
	policy  RetryPolicy
	metrics *metrics.Registry // nil-safe; a nil Registry disables instrumentation
}

func New(db *gorm.DB, policy RetryPolicy, m *metrics.Registry) *Queue {
	return &Queue{db: db, policy: policy, metrics: m}
}

// Enqueue inserts a new READY job. notBefore delays first visibility.
func (q *Queue) Enqueue(ctx context.Context, job model.ScrapeJob, notBefore *time.Time) (string, error) {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.policy.MaxAttempts
	}
	row := JobRow{
		ID:                   id,
		TrackerID:            job.TrackerID,
		ProductID:            job.ProductID,
		CompetitorName:       job.CompetitorName,
		URL:                  job.URL,
		AllowBrowserFallback: job.AllowBrowserFallback,
		Attempt:              1,
		MaxAttempts:          maxAttempts,
		Origin:               string(job.Origin),
		State:                StateReady,
		NotBefore:            notBefore,
		EnqueuedAt:           time.Now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", apperr.Wrap(apperr.Internal, "queue.Enqueue", "insert job", false, err)
	}
	if q.metrics != nil {
		q.metrics.JobsEnqueued.WithLabelValues(string(job.Origin)).Inc()
	}
	return row.ID, nil
}

// Reserve claims one READY (or expired RESERVED) job for workerID, making
// it invisible to other reservers until visibilityTimeout elapses.
func (q *Queue) Reserve(ctx context.Context, workerID string, visibilityTimeout time.Duration) (*model.ScrapeJob, error) {
	now := time.Now().UTC()
	visibleUntil := now.Add(visibilityTimeout)

	var row JobRow
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Where("state = ? AND (not_before IS NULL OR not_before <= ?)", StateReady, now).
			Or("state = ? AND visible_at <= ?", StateReserved, now).
			Order("enqueued_at ASC").
			Limit(1)

		if err := query.First(&row).Error; err != nil {
			return err
		}

		result := tx.Model(&JobRow{}).
			Where("id = ? AND (state = ? OR (state = ? AND visible_at <= ?))", row.ID, StateReady, StateReserved, now).
			Updates(map[string]interface{}{
				"state":       StateReserved,
				"reserved_by": workerID,
				"visible_at":  visibleUntil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "queue.Reserve", "reserve job", false, err)
	}

	job := toJob(row)
	return &job, nil
}

// Ack marks a reserved job as terminally successful.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	err := q.db.WithContext(ctx).Model(&JobRow{}).
		Where("id = ?", jobID).
		Update("state", StateAcked).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "queue.Ack", "ack job", false, err)
	}
	if q.metrics != nil {
		q.metrics.JobsAcked.Inc()
	}
	return nil
}

// Nack requeues a reserved job to run again after delay, bumping attempt.
func (q *Queue) Nack(ctx context.Context, jobID string, delay time.Duration) error {
	notBefore := time.Now().UTC().Add(delay)
	err := q.db.WithContext(ctx).Model(&JobRow{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":      StateReady,
			"attempt":    gorm.Expr("attempt + 1"),
			"not_before": notBefore,
		}).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "queue.Nack", "nack job", false, err)
	}
	return nil
}

// MoveToDLQ terminally fails a job: it is removed from the active queue
// and recorded in the DLQ with its failure classification.
func (q *Queue) MoveToDLQ(ctx context.Context, jobID string, kind model.OutcomeKind, detail string) error {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row JobRow
		if err := tx.First(&row, "id = ?", jobID).Error; err != nil {
			return err
		}
		if err := tx.Model(&JobRow{}).Where("id = ?", jobID).Update("state", StateDLQ).Error; err != nil {
			return err
		}
		entry := DeadLetterRow{
			JobID:          jobID,
			TrackerID:      row.TrackerID,
			ProductID:      row.ProductID,
			URL:            row.URL,
			FailureKind:    string(kind),
			FailureDetail:  detail,
			FinalAttempt:   row.Attempt,
			DeadLetteredAt: time.Now().UTC(),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.JobsDeadLettered.WithLabelValues(string(kind)).Inc()
	}
	return nil
}

// Resolve applies the retry policy to a finished attempt: ack on success,
// nack with backoff on a retryable failure within budget, or DLQ otherwise.
func (q *Queue) Resolve(ctx context.Context, jobID string, attempt int, outcome model.ScrapeOutcome) error {
	if outcome.Success() {
		return q.Ack(ctx, jobID)
	}
	if q.policy.ShouldDeadLetter(attempt, outcome.Retryable()) {
		return q.MoveToDLQ(ctx, jobID, outcome.Kind, outcome.Detail)
	}
	delay := q.policy.NextDelay(attempt, outcome.Hard)
	if err := q.Nack(ctx, jobID, delay); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.JobsNacked.WithLabelValues(string(outcome.Kind)).Inc()
	}
	return nil
}

// Depth counts jobs currently READY or RESERVED, backing the QueueDepth
// gauge a caller polls on an interval.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&JobRow{}).
		Where("state IN ?", []JobState{StateReady, StateReserved}).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "queue.Depth", "count active jobs", false, err)
	}
	return count, nil
}

func toJob(r JobRow) model.ScrapeJob {
	return model.ScrapeJob{
		ID:                   r.ID,
		TrackerID:            r.TrackerID,
		ProductID:            r.ProductID,
		CompetitorName:       r.CompetitorName,
		URL:                  r.URL,
		AllowBrowserFallback: r.AllowBrowserFallback,
		Attempt:              r.Attempt,
		MaxAttempts:          r.MaxAttempts,
		EnqueuedAt:           r.EnqueuedAt,
		NotBefore:            r.NotBefore,
		Origin:               model.JobOrigin(r.Origin),
	}
}
