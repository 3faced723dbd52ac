// Package resilience wraps synchronous calls to other services with bounded
// retries, a circuit breaker and a typed fallback value.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

// ErrServiceUnavailable marks a degraded result: the breaker was open or the
// retry budget ran out, and the caller got the fallback value instead.
var ErrServiceUnavailable = errors.New("service unavailable")

type Config struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		CallTimeout:      5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Policy is safe for concurrent use; one instance guards one downstream dependency.
type Policy struct {
	name   string
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewPolicy(name string, cfg Config, logger *zap.Logger) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	p := &Policy{name: name, cfg: cfg, logger: logger.With(zap.String("dependency", name))}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			p.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return p
}

func (p *Policy) Name() string { return p.name }

func (p *Policy) State() gobreaker.State { return p.cb.State() }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a business outcome (insufficient stock, declined card, ...).
// Such errors are returned to the caller as-is: never retried, never counted
// against the breaker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Result is what a guarded call produced. Degraded results carry the fallback
// value and must not be read as a confirmed success.
type Result[T any] struct {
	Value    T
	Degraded bool
	Cause    error
}

// Err converts a degraded result into an error wrapping ErrServiceUnavailable.
func (r Result[T]) Err() error {
	if !r.Degraded {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, r.Cause)
}

// Execute runs fn under the policy. Business errors come back as the error
// return; infrastructure failures come back as a degraded Result holding fallback.
func Execute[T any](ctx context.Context, p *Policy, fallback T, fn func(ctx context.Context) (T, error)) (Result[T], error) {
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	var value T
	attempts := 0
	op := func() error {
		attempts++
		_, err := p.cb.Execute(func() (interface{}, error) {
			v, err := fn(ctx)
			if err == nil {
				value = v
			}
			return nil, err
		})
		switch {
		case err == nil:
			return nil
		case IsPermanent(err),
			errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests),
			ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			logging.FromContext(ctx, p.logger).Debug("call failed, retrying",
				zap.Int("attempt", attempts), zap.Error(err))
			return err
		}
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(p.newBackOff(), uint64(p.cfg.MaxAttempts-1)), ctx))
	if err == nil {
		return Result[T]{Value: value}, nil
	}
	if IsPermanent(err) {
		return Result[T]{}, err
	}

	reason := "exhausted"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "open"
	}
	metrics.Fallbacks.WithLabelValues(p.name, reason).Inc()
	logging.FromContext(ctx, p.logger).Warn("returning fallback",
		zap.String("reason", reason),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return Result[T]{Value: fallback, Degraded: true, Cause: err}, nil
}

func (p *Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		b.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		b.MaxInterval = p.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
