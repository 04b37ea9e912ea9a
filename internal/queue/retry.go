package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the next-delay backoff named in spec.md §4.5:
// next_delay = min(max_backoff, base*2^(attempt-1)) ± 20% jitter.
type RetryPolicy struct {
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	HardFailMaxBackoff time.Duration
	MaxAttempts        int
	Rand               *rand.Rand // nil uses the package-level source
}

// NextDelay returns the delay before attempt should next run. hard selects
// the smaller cap spec.md §4.5 assigns to HardFail-retryable outcomes
// (PARSE_MISS, HTTP_STATUS, BLOCKED) versus SoftFail's larger cap.
func (p RetryPolicy) NextDelay(attempt int, hard bool) time.Duration {
	backoffCap := p.MaxBackoff
	if hard && p.HardFailMaxBackoff > 0 {
		backoffCap = p.HardFailMaxBackoff
	}

	base := float64(p.BaseBackoff) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(base)
	if delay > backoffCap {
		delay = backoffCap
	}

	jitterFrac := (p.randFloat()*2 - 1) * 0.2 // uniform in [-0.2, 0.2]
	jittered := time.Duration(float64(delay) * (1 + jitterFrac))
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

func (p RetryPolicy) randFloat() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}

// ShouldDeadLetter reports whether a job with the given attempt count and
// retryability should go to the DLQ rather than be requeued, per spec.md
// §4.5/§7: attempts exhausted, or a non-retryable HardFail.
func (p RetryPolicy) ShouldDeadLetter(attempt int, retryable bool) bool {
	if !retryable {
		return true
	}
	return attempt >= p.MaxAttempts
}
