package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

// writeTimeout bounds one fan-out of one event to all sinks.
const writeTimeout = 5 * time.Second

// Dispatcher queues audit events and delivers them to its sinks from a
// single background goroutine. Emit never blocks.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics metrics.Recorder
	clock   types.Clock

	mu     sync.RWMutex
	closed bool
	queue  chan types.AuditEvent
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics counts dropped events on rec.
func WithMetrics(rec metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = rec }
}

// WithClock overrides the event timestamp source.
func WithClock(c types.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher starts a dispatcher with room for bufferSize queued events.
func NewDispatcher(sinks []Sink, bufferSize int, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics.Nop{},
		clock:   types.RealClock{},
		queue:   make(chan types.AuditEvent, bufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// LogEvent records name with attrs. Request and provider event ids are taken
// from ctx.
func (d *Dispatcher) LogEvent(ctx context.Context, name string, attrs types.Attributes) {
	d.Publish(d.newEvent(ctx, name, attrs, nil))
}

// LogEventWithPayload is LogEvent plus the raw webhook body, stored
// compressed.
func (d *Dispatcher) LogEventWithPayload(ctx context.Context, name string, attrs types.Attributes, raw []byte) {
	d.Publish(d.newEvent(ctx, name, attrs, CompressPayload(raw)))
}

func (d *Dispatcher) newEvent(ctx context.Context, name string, attrs types.Attributes, payload []byte) types.AuditEvent {
	return types.AuditEvent{
		ID:              uuid.NewString(),
		Name:            name,
		RequestID:       types.GetRequestID(ctx),
		ProviderEventID: types.GetProviderEventID(ctx),
		Attributes:      attrs,
		Payload:         payload,
		OccurredAt:      d.clock.Now(),
	}
}

// Publish enqueues a prepared event. It reports false when the event was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(evt types.AuditEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(evt, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- evt:
		return true
	default:
		d.drop(evt, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(evt types.AuditEvent, reason string) {
	d.logger.Warn("audit event dropped",
		"reason", reason,
		"event", evt.Name,
		"audit_id", evt.ID,
		"attributes", map[string]any(evt.Attributes),
	)
	d.metrics.Count(context.Background(), types.MetricAuditDropped, 1, map[string]string{
		types.DimEventName: evt.Name,
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := WriteAll(ctx, d.sinks, evt); err != nil {
			d.logger.Error("audit delivery failed",
				"event", evt.Name,
				"audit_id", evt.ID,
				"error", err.Error(),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued events are delivered
// or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: drain interrupted with %d events queued: %w", len(d.queue), ctx.Err())
	}
}

// WriteAll delivers evt to every sink concurrently. A failing sink does not
// stop the others; all failures are returned joined.
func WriteAll(ctx context.Context, sinks []Sink, evt types.AuditEvent) error {
	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			if err := s.Write(ctx, evt); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
