package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// Bus channel and stream carrying ledger events.
const (
	EventChannel = "ledger:events"
	EventStream  = "ledger:events:stream"
)

// MultiSink fans an event out to every configured sink. All sinks are
// attempted; their errors are joined.
type MultiSink []domain.EventSink

var _ domain.EventSink = MultiSink(nil)

func (m MultiSink) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BusSink publishes events on the signal bus, both as a pub/sub message for
// live subscribers and as a stream entry for replay.
type BusSink struct {
	bus domain.SignalBus
}

var _ domain.EventSink = (*BusSink)(nil)

// NewBusSink creates a BusSink over bus.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (b *BusSink) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus_sink: marshal event: %w", err)
	}
	if err := b.bus.Publish(ctx, EventChannel, payload); err != nil {
		return fmt.Errorf("bus_sink: publish: %w", err)
	}
	if err := b.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		return fmt.Errorf("bus_sink: stream append: %w", err)
	}
	return nil
}

// emitEvent stamps ev and hands it to sink. Sink failures are logged and
// never returned; the mutation has already committed.
func emitEvent(ctx context.Context, sink domain.EventSink, logger *slog.Logger, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, ev); err != nil {
		logger.WarnContext(ctx, "ledger: emit event failed",
			slog.String("event", ev.Name),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func userRef(id domain.Identity) *domain.Identity {
	return &id
}

func seqRef(seq uint64) *uint64 {
	return &seq
}
