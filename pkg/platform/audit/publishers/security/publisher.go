// Package security provides a non-blocking audit publisher for security events.
//
// Events are buffered and flushed in batches by a background goroutine.
// Critical events (tamper detection, integrity failures) are written
// synchronously first so they are durable before the triggering error is
// surfaced; if that write fails they fall back to the buffer.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "aegis/pkg/platform/audit"
)

// Publisher buffers security events and flushes them to the store.
type Publisher struct {
	store         audit.Store
	buffer        *RingBuffer
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// New creates a publisher and starts its flush loop. Call Close to drain.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        NewRingBuffer(0),
		flushInterval: 250 * time.Millisecond,
		batchSize:     100,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Emit records a security event without blocking on the buffered path.
func (p *Publisher) Emit(ctx context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	e := event.ToEvent()
	e.ID = uuid.NewString()

	if event.Severity == audit.SeverityCritical {
		if err := p.store.Append(ctx, e); err == nil {
			return
		} else if p.logger != nil {
			p.logger.ErrorContext(ctx, "critical security audit write failed, buffering",
				"action", event.Action,
				"error", err,
			)
		}
	}

	if p.buffer.Enqueue(e) && p.logger != nil {
		p.logger.WarnContext(ctx, "security audit buffer full, dropped oldest event")
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			p.flush(context.Background())
			return
		case <-ticker.C:
			p.flush(context.Background())
		case <-p.wake:
			p.flush(context.Background())
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for i, e := range batch {
			if err := p.store.Append(ctx, e); err != nil {
				if p.logger != nil {
					p.logger.Error("security audit flush failed", "error", err, "pending", len(batch)-i)
				}
				p.buffer.Requeue(batch[i:])
				return
			}
		}
	}
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int { return p.buffer.Len() }

// Close stops the flush loop after a final drain.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
	return nil
}
