package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize   = 1024
	defaultSendTimeout = 2 * time.Second
)

// Dispatcher queues events and fans them out to every sink from a single
// background worker. A full queue drops the event instead of blocking.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithSendTimeout bounds each fan-out round.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Event, size)
		}
	}
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, defaultQueueSize),
		timeout: defaultSendTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues event. It never blocks; a full queue is reported as an
// error so callers can log it.
func (d *Dispatcher) Notify(_ context.Context, event Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.metrics.incDropped()
		return fmt.Errorf("notify queue full, dropped %s for %s", event.Type, event.RequestID)
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case event := <-d.queue:
			d.deliver(context.Background(), event)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(context.Background(), event)
		default:
			return
		}
	}
}

// deliver sends event to all sinks concurrently. Sink errors are logged and
// counted; one failing sink never prevents delivery to the others.
func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Send(ctx, event); err != nil {
				d.metrics.incFailed(sink.Name())
				d.logger.WarnContext(ctx, "notification delivery failed",
					"sink", sink.Name(),
					"event", string(event.Type),
					"approval_id", event.RequestID,
					"error", err,
				)
				return nil
			}
			d.metrics.incDelivered(sink.Name())
			return nil
		})
	}
	_ = g.Wait()
}
