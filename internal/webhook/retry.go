package webhook

import (
	"math"
	"time"
)

// RetryPolicy bounds retries of transport failures. Retry n (1-based) waits
// Base^n seconds: with Base 2 the waits are 2s, 4s, 8s, ...
type RetryPolicy struct {
	MaxRetries int
	Base       int
}

// DefaultRetryPolicy matches the delivery defaults: five retries, base 2.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, Base: 2}

// maxDelay caps a single wait so a misconfigured base cannot overflow.
const maxDelay = 24 * time.Hour

// Delay returns the wait before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := max(p.Base, 1)
	secs := math.Pow(float64(base), float64(n))
	if secs >= maxDelay.Seconds() {
		return maxDelay
	}
	return time.Duration(secs * float64(time.Second))
}

// MaxAttempts is the first attempt plus MaxRetries.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Decision is the outcome of one delivery attempt.
type Decision struct {
	Retry bool
	// RetryNumber is the 1-based index of the retry to schedule.
	RetryNumber int
	Delay       time.Duration
}

// Decide classifies attempt (1-based) given its transport error. A nil error
// means the target answered, whatever the status, and nothing is retried.
func (p RetryPolicy) Decide(attempt int, transportErr error) Decision {
	if transportErr == nil || attempt > p.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, RetryNumber: attempt, Delay: p.Delay(attempt)}
}
