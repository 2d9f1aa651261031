package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorClass groups request failures by how the retry policy treats them.
type ErrorClass string

const (
	// ClassTransient covers network errors, timeouts and HTTP 5xx.
	ClassTransient ErrorClass = "transient"
	// ClassThrottled covers HTTP 429 and exchange throttling responses.
	ClassThrottled ErrorClass = "throttled"
	// ClassPermanent covers everything a retry cannot fix (4xx, undecodable bodies, cancellation).
	ClassPermanent ErrorClass = "permanent"
)

// RequestError is a classified failure of a single page request.
type RequestError struct {
	Class      ErrorClass
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failure (HTTP %d): %v", e.Class, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s failure: %v", e.Class, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary error to an ErrorClass.
// Unclassified network errors and deadline overruns are transient.
func Classify(err error) ErrorClass {
	var reqErr *RequestError
	if stderrors.As(err, &reqErr) {
		return reqErr.Class
	}

	if stderrors.Is(err, context.Canceled) {
		return ClassPermanent
	}

	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassPermanent
}

// RetryPolicy is the explicit retry configuration of the fetcher.
// A request is attempted once and then retried up to MaxRetries times, waiting
// BaseDelay, BaseDelay*Multiplier, ... capped at MaxDelay between attempts.
type RetryPolicy struct {
	MaxRetries uint64        `yaml:"max_retries" json:"maxRetries" jsonschema:"title=Max retries,description=Retries after the first attempt" validate:"lte=10"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"baseDelay" jsonschema:"title=Base delay,description=Delay before the first retry" validate:"gte=0"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"maxDelay" jsonschema:"title=Max delay,description=Upper bound of a single delay" validate:"gtefield=BaseDelay"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier" jsonschema:"title=Multiplier,description=Growth factor of the delay" validate:"gte=1"`
	// Jitter is the randomization factor applied to each delay (0 disables it).
	Jitter float64 `yaml:"jitter" json:"jitter" jsonschema:"title=Jitter,description=Randomization factor between 0 and 1" validate:"gte=0,lte=1"`
	// RetryOn lists the error classes that are retried. Anything else fails immediately.
	RetryOn []ErrorClass `yaml:"retry_on" json:"retryOn" jsonschema:"title=Retry on,enum=transient,enum=throttled" validate:"dive,oneof=transient throttled"`
}

// DefaultRetryPolicy retries transient and throttled failures three times: 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     0,
		RetryOn:    []ErrorClass{ClassTransient, ClassThrottled},
	}
}

// Retryable reports whether the class is retried under this policy.
func (p RetryPolicy) Retryable(class ErrorClass) bool {
	for _, c := range p.RetryOn {
		if c == class {
			return true
		}
	}

	return false
}

// Schedule returns the nominal delays between attempts, ignoring jitter.
func (p RetryPolicy) Schedule() []time.Duration {
	b := p.exponential()
	b.RandomizationFactor = 0
	b.Reset()

	delays := make([]time.Duration, 0, p.MaxRetries)
	for i := uint64(0); i < p.MaxRetries; i++ {
		delays = append(delays, b.NextBackOff())
	}

	return delays
}

// Do runs op until it succeeds, returns a non-retryable error, the retry budget is
// exhausted or ctx is done. notify is called before every wait with the failure that
// caused it. The returned error is the last failure of op.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(attempt uint64, err error, wait time.Duration)) error {
	var attempt uint64

	operation := func() error {
		attempt++

		err := op()
		if err == nil {
			return nil
		}

		if !p.Retryable(Classify(err)) {
			return backoff.Permanent(err)
		}

		return err
	}

	var notifyFn backoff.Notify
	if notify != nil {
		notifyFn = func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), p.MaxRetries), ctx)

	return backoff.RetryNotify(operation, b, notifyFn)
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	// The attempt budget bounds the retries, not wall-clock time.
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}
