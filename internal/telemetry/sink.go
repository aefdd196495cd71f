package telemetry

import "kiln_control/internal/supervisor"

// SupervisorSink forwards supervisor output onto the bus.
type SupervisorSink struct {
	Bus *Bus
}

func (s SupervisorSink) PublishSnapshot(snap supervisor.Snapshot) {
	s.Bus.Publish(TopicState, snap)
}

func (s SupervisorSink) PublishEvent(ev supervisor.Event) {
	s.Bus.Publish(TopicEvent, ev)
}
