package jobs

import (
	"errors"

	"github.com/riverqueue/river"

	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// verdict is what a worker tells River after an attempt.
type verdict int

const (
	verdictDone   verdict = iota // job finished, successfully or not
	verdictRetry                 // schedule another attempt
	verdictCancel                // stop for good
)

func (v verdict) String() string {
	switch v {
	case verdictRetry:
		return "retry"
	case verdictCancel:
		return "cancel"
	default:
		return "done"
	}
}

// result converts v into the error River expects from Work.
func (v verdict) result(cause error) error {
	switch v {
	case verdictRetry:
		return cause
	case verdictCancel:
		return river.JobCancel(cause)
	default:
		return nil
	}
}

func importVerdict(out importer.Outcome) verdict {
	switch out.Status {
	case importer.StatusRetrying:
		return verdictRetry
	case importer.StatusFailed:
		return verdictCancel
	default:
		return verdictDone
	}
}

func deliveryVerdict(policy webhook.RetryPolicy, attempt int, err error) verdict {
	switch {
	case err == nil:
		return verdictDone
	case errors.Is(err, webhook.ErrInvalidTarget):
		return verdictCancel
	case policy.Decide(attempt, err).Retry:
		return verdictRetry
	default:
		return verdictCancel
	}
}
