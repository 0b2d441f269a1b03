package sink

import (
	"context"

	"lobby-lab/domain/event"
	"lobby-lab/observability"
)

// StatsSink feeds the monitoring counters from the replicated event stream.
type StatsSink struct {
	monitoring *observability.MonitoringManager
}

func NewStatsSink(monitoring *observability.MonitoringManager) StatsSink {
	return StatsSink{monitoring: monitoring}
}

func (s StatsSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch e.(type) {
	case event.ParticipantJoined:
		s.monitoring.IncrParticipantsJoined()
	case event.ParticipantLeft:
		s.monitoring.IncrParticipantsLeft()
	case event.ReadinessChanged:
		s.monitoring.IncrReadyAssertions()
	}
	return nil
}
