package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/queue"
)

// fakeJob is a minimal in-memory mirror of queue.JobRow's state machine,
// used to verify READY -> RESERVED -> (ACKED|REQUEUED|DLQ) transitions
// without a running postgres instance.
type fakeJob struct {
	state   queue.JobState
	attempt int
}

func (j *fakeJob) reserve() bool {
	if j.state != queue.StateReady {
		return false
	}
	j.state = queue.StateReserved
	return true
}

func (j *fakeJob) resolve(policy queue.RetryPolicy, outcome model.ScrapeOutcome) {
	if outcome.Success() {
		j.state = queue.StateAcked
		return
	}
	if policy.ShouldDeadLetter(j.attempt, outcome.Retryable()) {
		j.state = queue.StateDLQ
		return
	}
	j.attempt++
	j.state = queue.StateReady
}

func TestJobStateMachine_SuccessPathAcks(t *testing.T) {
	job := &fakeJob{state: queue.StateReady, attempt: 1}
	require := assert.New(t)

	require.True(job.reserve())
	job.resolve(queue.RetryPolicy{MaxAttempts: 3}, model.ScrapeOutcome{Kind: model.KindSuccess})

	require.Equal(queue.StateAcked, job.state)
}

func TestJobStateMachine_RetryableFailureRequeues(t *testing.T) {
	job := &fakeJob{state: queue.StateReady, attempt: 1}
	job.reserve()
	job.resolve(queue.RetryPolicy{MaxAttempts: 3}, model.ScrapeOutcome{Kind: model.KindTimeout, Hard: false})

	assert.Equal(t, queue.StateReady, job.state)
	assert.Equal(t, 2, job.attempt)
}

func TestJobStateMachine_ExhaustedAttemptsDeadLetters(t *testing.T) {
	job := &fakeJob{state: queue.StateReady, attempt: 3}
	job.reserve()
	job.resolve(queue.RetryPolicy{MaxAttempts: 3}, model.ScrapeOutcome{Kind: model.KindTimeout, Hard: false})

	assert.Equal(t, queue.StateDLQ, job.state)
}

func TestJobStateMachine_NonRetryableDeadLettersImmediately(t *testing.T) {
	job := &fakeJob{state: queue.StateReady, attempt: 1}
	job.reserve()
	job.resolve(queue.RetryPolicy{MaxAttempts: 5}, model.ScrapeOutcome{Kind: model.KindDomainBlocked, Hard: true})

	assert.Equal(t, queue.StateDLQ, job.state)
}

func TestJobStateMachine_CannotReserveAlreadyReserved(t *testing.T) {
	job := &fakeJob{state: queue.StateReady}
	assert.True(t, job.reserve())
	assert.False(t, job.reserve())
}
