package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrThrottled is returned when the event budget rejects a submission.
var ErrThrottled = errors.New("event throttled")

// Pipeline fans events out to the configured sinks behind one throttle.
type Pipeline struct {
	sinks    []Sink
	throttle *Throttle
	logger   *slog.Logger
}

// NewPipeline constructs an event pipeline. Nil sinks are dropped; with no
// sinks at all the pipeline itself is nil, and a nil pipeline swallows
// every submission.
func NewPipeline(logger *slog.Logger, throttle *Throttle, sinks ...Sink) *Pipeline {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{sinks: kept, throttle: throttle, logger: logger}
}

// Submit delivers one event to every sink. A failing sink does not stop
// the others; all failures come back joined.
func (p *Pipeline) Submit(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if !p.throttle.Allow() {
		return fmt.Errorf("%w: event %s", ErrThrottled, ev.ID)
	}

	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dropped reports how many events the throttle rejected so far.
func (p *Pipeline) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.throttle.Dropped()
}

// Close releases every sink, joining their errors.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
