// Package queue implements the Job Queue & DLQ (spec.md §4.5): a durable,
// gorm-backed FIFO-with-delay queue carrying per-job retry state, following
// the teacher's gorm row conventions.
package queue

import "time"

// JobState is the state-machine position of a queued job.
type JobState string

const (
	StateReady    JobState = "READY"
	StateReserved JobState = "RESERVED"
	StateAcked    JobState = "ACKED"
	StateDLQ      JobState = "DLQ"
)

// JobRow is the durable representation of a model.ScrapeJob plus its queue
// bookkeeping (state, attempt, visibility).
type JobRow struct {
	ID                   string `gorm:"primaryKey;type:uuid"`
	TrackerID            string `gorm:"index"`
	ProductID            string
	CompetitorName       string
	URL                  string
	AllowBrowserFallback bool
	Attempt              int
	MaxAttempts          int
	Origin               string
	State                JobState   `gorm:"index"`
	NotBefore            *time.Time `gorm:"index"`
	ReservedBy           string
	VisibleAt            *time.Time
	EnqueuedAt           time.Time
	UpdatedAt            time.Time
}

func (JobRow) TableName() string { return "jobs" }

// DeadLetterRow records a job that exhausted retries or hit a
// non-retryable terminal failure, keyed by the original job id.
type DeadLetterRow struct {
	JobID          string `gorm:"primaryKey;type:uuid"`
	TrackerID      string `gorm:"index"`
	ProductID      string
	URL            string
	FailureKind    string
	FailureDetail  string
	FinalAttempt   int
	DeadLetteredAt time.Time
}

func (DeadLetterRow) TableName() string { return "dlq" }
