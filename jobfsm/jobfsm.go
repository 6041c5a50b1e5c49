// Package jobfsm implements the Job State Machine (§4.5): the closed set
// of queued/started/succeeded/failed/cancelled transitions, and the
// lifecycle event stream that accompanies them.
package jobfsm

import (
	"context"
	"sync"
	"time"

	"github.com/erasmus-project/esrp/eventbus"
	"github.com/erasmus-project/esrp/protocol"
)

// validTransitions is the closed transition table. Any (from, to) pair not
// present here is rejected with INVALID_INPUT_SEMANTIC.
var validTransitions = map[protocol.JobState]map[protocol.JobState]bool{
	protocol.JobQueued: {
		protocol.JobStarted:   true,
		protocol.JobCancelled: true,
	},
	protocol.JobStarted: {
		protocol.JobSucceeded: true,
		protocol.JobFailed:    true,
		protocol.JobCancelled: true,
	},
	protocol.JobSucceeded: {},
	protocol.JobFailed:    {},
	protocol.JobCancelled: {},
}

// IsValidTransition reports whether from -> to is a permitted Job state
// transition.
func IsValidTransition(from, to protocol.JobState) bool {
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// eventForTransition maps a (from, to) transition to the JobEvent type it
// emits. Only terminal transitions and the two from Queued have a direct
// mapping; job_progress is emitted out-of-band via Progress, not through a
// state transition.
func eventForTransition(from, to protocol.JobState) protocol.EventType {
	switch {
	case from == protocol.JobQueued && to == protocol.JobStarted:
		return protocol.EventJobStarted
	case to == protocol.JobSucceeded:
		return protocol.EventJobCompleted
	case to == protocol.JobFailed:
		return protocol.EventJobFailed
	case to == protocol.JobCancelled:
		return protocol.EventJobCancelled
	default:
		return ""
	}
}

// Machine tracks one Job's state and timestamp history, and publishes every
// transition as a protocol.JobEvent on bus. It is safe for concurrent use.
type Machine struct {
	mu            sync.Mutex
	job           protocol.Job
	bus           *eventbus.Bus
	lastEventTime time.Time
	queuedEmitted bool
}

// New creates a Machine for jobID in the queued state and immediately
// publishes the mandatory first job_queued event (§8 invariant: the
// first event for any job must be job_queued).
func New(ctx context.Context, jobID string, bus *eventbus.Bus) *Machine {
	m := &Machine{
		job: protocol.Job{JobID: jobID, State: protocol.JobQueued},
		bus: bus,
	}
	m.emit(ctx, protocol.EventJobQueued, nil)
	m.queuedEmitted = true
	return m
}

// State returns the job's current state.
func (m *Machine) State() protocol.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.State
}

// Job returns a snapshot copy of the tracked Job.
func (m *Machine) Job() protocol.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := m.job
	return clone
}

// Transition moves the job from its current state to to, publishing the
// corresponding JobEvent. It returns INVALID_INPUT_SEMANTIC if the
// transition is not in the closed transition table.
func (m *Machine) Transition(ctx context.Context, to protocol.JobState, data map[string]any) error {
	m.mu.Lock()
	from := m.job.State
	if !IsValidTransition(from, to) {
		m.mu.Unlock()
		return protocol.NewFieldError(protocol.ErrInvalidInputSemantic, "state",
			"cannot transition job from "+string(from)+" to "+string(to))
	}
	m.job.State = to
	m.mu.Unlock()

	eventType := eventForTransition(from, to)
	if eventType != "" {
		m.emit(ctx, eventType, data)
	}
	return nil
}

// Progress publishes an out-of-band job_progress event without changing
// the tracked state. On a job that has already reached a terminal state it
// publishes nothing and returns INVALID_INPUT_SEMANTIC.
func (m *Machine) Progress(ctx context.Context, data map[string]any) error {
	m.mu.Lock()
	terminal := m.job.State.IsTerminal()
	m.mu.Unlock()
	if terminal {
		return protocol.NewError(protocol.ErrInvalidInputSemantic, "cannot report progress on a terminal job")
	}
	m.emit(ctx, protocol.EventJobProgress, data)
	return nil
}

// emit stamps and publishes an event, enforcing monotonic non-decreasing
// timestamps across the job's observable lifecycle.
func (m *Machine) emit(ctx context.Context, eventType protocol.EventType, data map[string]any) {
	event := protocol.NewJobEvent(eventType, m.job.JobID, data)

	m.mu.Lock()
	if !m.lastEventTime.IsZero() && event.Timestamp.Before(m.lastEventTime) {
		event.Timestamp = m.lastEventTime
	}
	m.lastEventTime = event.Timestamp
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(ctx, event)
	}
}
