package notify

import (
	"context"
	"errors"
	"log/slog"

	"accessgate/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while a guarded sink is being skipped.
var ErrCircuitOpen = errors.New("sink circuit open")

// GuardedSink skips a remote sink after repeated failures so an outage does
// not eat the dispatcher's send budget on every event.
type GuardedSink struct {
	sink    Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func Guard(sink Sink, breaker *circuit.Breaker, logger *slog.Logger) *GuardedSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedSink{sink: sink, breaker: breaker, logger: logger}
}

func (g *GuardedSink) Name() string { return g.sink.Name() }

func (g *GuardedSink) Send(ctx context.Context, event Event) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := g.sink.Send(ctx, event); err != nil {
		if g.breaker.RecordFailure() {
			g.logger.WarnContext(ctx, "notification sink disabled after repeated failures",
				"sink", g.sink.Name(),
				"error", err,
			)
		}
		return err
	}
	if g.breaker.State() != circuit.StateClosed {
		g.logger.InfoContext(ctx, "notification sink recovered", "sink", g.sink.Name())
	}
	g.breaker.RecordSuccess()
	return nil
}
