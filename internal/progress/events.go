// Package progress provides progress event types and delivery for generation jobs.
package progress

import "fmt"

// Kind identifies the type of progress event
type Kind string

const (
	KindQueued      Kind = "queued"
	KindStep        Kind = "step"
	KindNodeStarted Kind = "node_started"
	KindCompleted   Kind = "completed"
)

// Event is a single progress update from a running generation job.
// Exactly one variant is meaningful per Kind; consumers switch on Kind.
type Event struct {
	Kind Kind

	// Step progress (KindStep)
	Step     int
	Total    int
	Fraction float64

	// Node identifier (KindNodeStarted); opaque server-side string
	Node string
}

// Queued returns an event for a job accepted by the server.
func Queued() Event {
	return Event{Kind: KindQueued}
}

// Step returns a step-progress event. A zero total yields fraction 0
// rather than dividing by zero.
func Step(step, total int) Event {
	fraction := 0.0
	if total > 0 {
		fraction = float64(step) / float64(total)
	}
	return Event{
		Kind:     KindStep,
		Step:     step,
		Total:    total,
		Fraction: fraction,
	}
}

// NodeStarted returns an event for a workflow node beginning execution.
func NodeStarted(node string) Event {
	return Event{Kind: KindNodeStarted, Node: node}
}

// Completed returns the terminal progress event.
func Completed() Event {
	return Event{Kind: KindCompleted, Fraction: 1.0}
}

// Percent returns the event's progress as 0-100.
func (e Event) Percent() int {
	return int(e.Fraction * 100)
}

// Status returns a human-readable status line for UI display.
func (e Event) Status() string {
	switch e.Kind {
	case KindQueued:
		return "Queued..."
	case KindStep:
		return fmt.Sprintf("Generating... step %d/%d", e.Step, e.Total)
	case KindNodeStarted:
		return fmt.Sprintf("Processing node %s", e.Node)
	case KindCompleted:
		return "Complete"
	default:
		return string(e.Kind)
	}
}

// Send delivers an event without blocking. The stream is advisory, so an
// event is dropped when the consumer is not keeping up.
func Send(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
