// Package signals gathers risk signals from external producers in parallel.
// A producer that times out or fails is reported as absent; it never fails
// the collection.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"aegis/internal/risk"
	id "aegis/pkg/domain"
)

// SubjectContext is what producers may inspect about the subject.
type SubjectContext struct {
	SubjectID      id.SubjectID
	VerificationID id.VerificationID
	ClientIP       string
	UserAgent      string
	// KnownFingerprint is the device fingerprint bound at initiation, if any.
	KnownFingerprint string
}

// Producer computes one signal. Implementations should honor ctx but the
// collector does not rely on it.
type Producer interface {
	Source() risk.Source
	Produce(ctx context.Context, sc SubjectContext) (risk.Signal, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc struct {
	Src risk.Source
	Fn  func(ctx context.Context, sc SubjectContext) (risk.Signal, error)
}

func (p ProducerFunc) Source() risk.Source { return p.Src }

func (p ProducerFunc) Produce(ctx context.Context, sc SubjectContext) (risk.Signal, error) {
	return p.Fn(ctx, sc)
}

// TimeoutError reports a producer that did not answer in time.
type TimeoutError struct {
	Source risk.Source
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("signal producer %s timed out after %s", e.Source, e.After)
}

// ProducerError reports a producer that answered with an error or an
// unusable signal.
type ProducerError struct {
	Source risk.Source
	Err    error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("signal producer %s failed: %v", e.Source, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Absence records why a source contributed nothing.
type Absence struct {
	Source risk.Source
	Err    error
}

// Result holds the signals that arrived and the sources that did not.
type Result struct {
	Signals []risk.Signal
	Absent  []Absence
}

const defaultTimeout = 2 * time.Second

// Collector fans out to its producers with an independent deadline each.
type Collector struct {
	producers []Producer
	timeout   time.Duration
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Collector)

// WithTimeout bounds each producer call.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles producer calls across all requests. Waiting for a
// token counts against the producer's timeout.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Collector) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

func NewCollector(producers []Producer, opts ...Option) *Collector {
	c := &Collector{
		producers: producers,
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns once every producer has answered or hit its deadline.
// Results are ordered as the producers were registered.
func (c *Collector) Collect(ctx context.Context, sc SubjectContext) Result {
	type outcome struct {
		signal risk.Signal
		err    error
	}
	outcomes := make([]outcome, len(c.producers))

	var g errgroup.Group
	for i, p := range c.producers {
		g.Go(func() error {
			start := time.Now()
			sig, err := c.call(ctx, p, sc)
			c.metrics.observe(p.Source(), time.Since(start), err)
			outcomes[i] = outcome{signal: sig, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, o := range outcomes {
		src := c.producers[i].Source()
		if o.err != nil {
			res.Absent = append(res.Absent, Absence{Source: src, Err: o.err})
			c.logger.WarnContext(ctx, "risk signal absent",
				"source", src.String(),
				"verification_id", sc.VerificationID.String(),
				"timeout", IsTimeout(o.err),
				"error", o.err,
			)
			continue
		}
		res.Signals = append(res.Signals, o.signal)
	}
	return res
}

func (c *Collector) call(ctx context.Context, p Producer, sc SubjectContext) (risk.Signal, error) {
	src := p.Source()
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(pctx); err != nil {
			if ctx.Err() != nil {
				return risk.Signal{}, &ProducerError{Source: src, Err: ctx.Err()}
			}
			return risk.Signal{}, &TimeoutError{Source: src, After: c.timeout}
		}
	}

	type answer struct {
		signal risk.Signal
		err    error
	}
	// Buffered so a producer that ignores its context can still finish
	// without blocking forever.
	ch := make(chan answer, 1)
	go func() {
		sig, err := p.Produce(pctx, sc)
		ch <- answer{signal: sig, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			if errors.Is(a.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return risk.Signal{}, &TimeoutError{Source: src, After: c.timeout}
			}
			return risk.Signal{}, &ProducerError{Source: src, Err: a.err}
		}
		if a.signal.Source != src {
			return risk.Signal{}, &ProducerError{Source: src, Err: fmt.Errorf("produced signal for %q", a.signal.Source)}
		}
		if a.signal.ObservedAt.IsZero() {
			a.signal.ObservedAt = c.now().UTC()
		}
		return a.signal, nil
	case <-pctx.Done():
		if ctx.Err() != nil {
			return risk.Signal{}, &ProducerError{Source: src, Err: ctx.Err()}
		}
		return risk.Signal{}, &TimeoutError{Source: src, After: c.timeout}
	}
}
