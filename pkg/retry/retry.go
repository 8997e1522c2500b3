// Package retry re-invokes operations that fail with remote, transient errors.
//
// A Policy describes how many attempts an operation gets and how long to wait
// between them. The attempt counter lives in an explicit Budget which the
// operation receives, so long-running polls can re-arm it while the remote
// side is legitimately busy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
)

const DefaultInterval = time.Second

// ErrTimeout marks a wall-clock deadline that fired inside an operation. It
// is terminal: the policy never retries it.
var ErrTimeout = errors.New("operation timed out")

type Policy struct {
	Name     string
	Attempts int
	Interval time.Duration
}

// New returns a policy with the default one second interval.
func New(name string, attempts int) Policy {
	return Policy{Name: name, Attempts: attempts, Interval: DefaultInterval}
}

// WithInterval returns a copy of p using interval between attempts.
func (p Policy) WithInterval(interval time.Duration) Policy {
	p.Interval = interval
	return p
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Budget returns a fresh budget sized for p.
func (p Policy) Budget() *Budget {
	return NewBudget(p.attempts())
}

// Run retries op under p, discarding any result.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context, _ *Budget) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Budget counts the attempts left for one logical call.
type Budget struct {
	attempts  int
	remaining int
	last      error
}

func NewBudget(attempts int) *Budget {
	if attempts < 1 {
		attempts = 1
	}
	return &Budget{attempts: attempts, remaining: attempts}
}

func (b *Budget) Attempts() int  { return b.attempts }
func (b *Budget) Remaining() int { return b.remaining }
func (b *Budget) Last() error    { return b.last }

// Rearm restores the budget to its original size. The last recorded error is
// kept for diagnostics.
func (b *Budget) Rearm() {
	b.remaining = b.attempts
}

// spend records a failed attempt and reports whether another one is allowed.
func (b *Budget) spend(err error) bool {
	b.last = err
	b.remaining--
	return b.remaining > 0
}

// Do runs op under a fresh budget from p.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, b *Budget) (T, error)) (T, error) {
	return DoWithBudget(ctx, p, p.Budget(), op)
}

// DoWithBudget runs op under a caller-owned budget. Transient failures are
// retried after p.Interval until the budget is spent; any other error is
// returned as is. A success re-arms the budget so it can be reused.
func DoWithBudget[T any](ctx context.Context, p Policy, b *Budget, op func(ctx context.Context, b *Budget) (T, error)) (T, error) {
	var zero T
	for {
		value, err := op(ctx, b)
		if err == nil {
			b.Rearm()
			return value, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		more := b.spend(err)
		entry := logger.Log.WithError(err).WithFields(map[string]interface{}{
			"operation": p.Name,
			"remaining": b.remaining,
		})
		if !more {
			entry.Warn("retry budget exhausted")
			return zero, &ExhaustedError{Operation: p.Name, Attempts: b.attempts, Last: err}
		}
		entry.Debug("transient failure, retrying")

		if err := sleep(ctx, p.Interval); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExhaustedError is the terminal connection error returned once every attempt
// failed transiently.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable, e.g. an unusable response from an
// otherwise reachable service.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func Transientf(format string, args ...interface{}) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsTransient reports whether err belongs to the retryable set: connection
// failures, disconnects, transport timeouts and explicitly marked errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsExhausted(err) || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsRemote reports whether err came from talking to the remote service,
// whether still retryable, exhausted, or timed out. Callers use it to
// degrade a single item instead of failing a whole run.
func IsRemote(err error) bool {
	return IsTransient(err) || IsExhausted(err) || errors.Is(err, ErrTimeout)
}
