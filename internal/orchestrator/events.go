package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// EventType identifies an orchestration event.
type EventType string

const (
	// EventPlanStarted indicates a plan run has begun.
	EventPlanStarted EventType = "plan-started"
	// EventStepStarted indicates a workflow step is about to execute.
	EventStepStarted EventType = "step-started"
	// EventStepFinished indicates a step finished or was skipped.
	EventStepFinished EventType = "step-finished"
	// EventStoryStarted indicates a story entered the lifecycle.
	EventStoryStarted EventType = "story-started"
	// EventStoryFinished indicates a story reached done or failed.
	EventStoryFinished EventType = "story-finished"
	// EventCeremonyHeld indicates a ceremony ran and was recorded.
	EventCeremonyHeld EventType = "ceremony-held"
	// EventCeremonySkipped indicates a due ceremony was denied or skipped.
	EventCeremonySkipped EventType = "ceremony-skipped"
	// EventArtifactCommitted indicates step output landed in a commit.
	EventArtifactCommitted EventType = "artifact-committed"
	// EventPlanFinished indicates the run reached a terminal status.
	EventPlanFinished EventType = "plan-finished"
)

// Event is one orchestration progress notification. Consumers (the CLI
// progress view) receive these on a bounded stream.
type Event struct {
	// Type identifies the event.
	Type EventType `json:"type"`
	// Time is when the event occurred.
	Time time.Time `json:"time"`
	// EpicNum is the epic under execution.
	EpicNum int `json:"epic_num"`
	// Step is the step name, for step events.
	Step string `json:"step,omitempty"`
	// Story is the story number, for story events.
	Story int `json:"story,omitempty"`
	// Outcome is the step outcome, for step-finished events.
	Outcome models.StepOutcome `json:"outcome,omitempty"`
	// Ceremony is the ceremony type, for ceremony events.
	Ceremony models.CeremonyType `json:"ceremony,omitempty"`
	// Detail carries free-form context: a deny reason, a commit SHA.
	Detail string `json:"detail,omitempty"`
}

// defaultEventBuffer bounds the event stream; a slow consumer loses
// events rather than stalling the run.
const defaultEventBuffer = 64

// eventEmitter is a thread-safe drop-on-full event stream.
type eventEmitter struct {
	events  chan Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

func newEventEmitter(buffer int) *eventEmitter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &eventEmitter{events: make(chan Event, buffer)}
}

// emit publishes an event, dropping it when the buffer is full.
func (e *eventEmitter) emit(ev Event) {
	if e.closed.Load() {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Events returns the read side of the stream.
func (e *eventEmitter) Events() <-chan Event {
	return e.events
}

// Dropped returns how many events were lost to a full buffer.
func (e *eventEmitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close ends the stream. Emits after Close are ignored.
func (e *eventEmitter) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.events)
	}
}
