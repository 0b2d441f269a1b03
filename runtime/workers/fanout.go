package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lobby-lab/contract"
	"lobby-lab/domain/event"
	"lobby-lab/observability"
)

// EventFanout broadcasts authoritative domain events to in-process
// consumers: the permanent sinks (journal, stats) and every registered
// participant connection.
//
// Delivery is best-effort with loop-and-continue semantics: a failed or
// slow sink never blocks the broadcast to the others. The late
// disconnect of a dead participant is handled independently by the
// transport. EventFanout is not a message broker.
type EventFanout struct {
	log            *slog.Logger
	registry       contract.IRegistry
	permanentSinks []contract.EventSink
	events         <-chan event.DomainEvent
	sinkTimeout    time.Duration
	monitor        *observability.MonitoringManager
}

func NewEventFanout(log *slog.Logger, registry contract.IRegistry,
	permanentSinks []contract.EventSink, events <-chan event.DomainEvent,
	sinkTimeout time.Duration, monitor *observability.MonitoringManager) *EventFanout {
	return &EventFanout{
		log:            log,
		registry:       registry,
		permanentSinks: permanentSinks,
		events:         events,
		sinkTimeout:    sinkTimeout,
		monitor:        monitor,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout delivers one event to every sink. The registry snapshot is
// taken per event, so participants admitted after the event's epoch are
// simply not in the loop.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	sinks := make([]contract.EventSink, 0, len(w.permanentSinks))
	sinks = append(sinks, w.permanentSinks...)
	if w.registry != nil {
		sinks = append(sinks, w.registry.Sinks()...)
	}

	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := sink.Consume(sinkCtx, evt)
		cancel()
		if err != nil {
			w.log.Warn(fmt.Sprintf("Sink failed for %T, continuing", evt), "error", err)
			w.monitor.IncrBroadcastFailures()
			continue
		}
		w.monitor.IncrBroadcastsSent()
	}
}
