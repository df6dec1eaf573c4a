package generation

import (
	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

// EventType tags a frame pushed to a Sink.
type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
)

// Event is one projection of a job handed to a Sink. Terminal is set on the
// last event of a stream.
type Event struct {
	Type     EventType
	Job      domain.JobView
	Terminal bool
}

// Sink receives the ordered events of one job. An Emit error stops the loop.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// LogSink writes events to a logger. The resume worker uses it since nobody
// is listening on the other end.
type LogSink struct {
	Logger *infra.Logger
}

func (s LogSink) Emit(ev Event) error {
	if s.Logger == nil {
		return nil
	}
	entry := s.Logger.Debug()
	if ev.Terminal {
		entry = s.Logger.Info()
	}
	entry.
		Str("event", string(ev.Type)).
		Str("task_id", ev.Job.TaskID).
		Str("job_id", ev.Job.ID).
		Str("status", string(ev.Job.Status)).
		Int("progress", ev.Job.Progress).
		Bool("terminal", ev.Terminal).
		Msg("generation: event")
	return nil
}
