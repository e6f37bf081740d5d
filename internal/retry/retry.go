// Package retry runs upstream calls under an exponential backoff policy.
package retry

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
)

const ErrExhausted errors.Code = "retries exhausted"

// Policy bounds how hard an upstream call is retried.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	// Budget caps the time spent across attempts; zero leaves it to ctx.
	Budget time.Duration
	// Attempts caps the number of calls; zero means no cap.
	Attempts int
}

type Retry interface {
	// Do calls fn until it succeeds, returns a Permanent error, or the
	// policy runs out. op names the call in logs and metrics.
	Do(ctx context.Context, op string, fn func() error) error
}

type Backoff struct {
	policy Policy
	logger *log.Logger
}

var _ Retry = (*Backoff)(nil)

func New(policy Policy, logger *log.Logger) *Backoff {
	return &Backoff{policy: policy, logger: logger}
}

// Permanent stops retrying; Do returns err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// After asks for the next attempt to wait at least delay, as an upstream
// Retry-After header does. The policy's budget still applies.
func After(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &hintError{err: err, delay: delay}
}

type hintError struct {
	err   error
	delay time.Duration
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }

// hinted stretches the policy's next delay to the last upstream hint.
type hinted struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d != backoff.Stop && h.hint > d {
		d = h.hint
	}
	h.hint = 0
	return d
}

func (b *Backoff) Do(ctx context.Context, op string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.policy.Initial
	exp.MaxInterval = b.policy.Max
	exp.MaxElapsedTime = b.policy.Budget

	var policy backoff.BackOff = exp
	if b.policy.Attempts > 0 {
		policy = backoff.WithMaxRetries(exp, uint64(b.policy.Attempts-1))
	}
	h := &hinted{BackOff: policy}

	attempts := 0
	permanent := false
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		var pe *backoff.PermanentError
		if stderrors.As(err, &pe) {
			permanent = true
			return err
		}
		var he *hintError
		if stderrors.As(err, &he) {
			h.hint = he.delay
		}
		return err
	}, backoff.WithContext(h, ctx), func(err error, next time.Duration) {
		metricRetries.WithLabelValues(op).Inc()
		b.logger.Warn("Upstream call failed, retrying",
			log.String("op", op),
			log.Int("attempt", attempts),
			log.Duration("next", next),
			log.Error(err))
	})

	if err == nil || permanent || ctx.Err() != nil {
		return err
	}
	metricExhausted.WithLabelValues(op).Inc()
	return errors.Wrapf(ErrExhausted, err, "%s after %d attempts", op, attempts)
}
