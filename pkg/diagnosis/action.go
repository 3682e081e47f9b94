// Package diagnosis turns inference solutions into the single typed
// action attached to a node's next heartbeat reply (spec section 4.8).
// The wire format's old dynamic-dispatch-by-class-name design is
// re-architected here as a closed tagged variant (spec section 9): a
// small sealed interface with exactly two implementations, matched by
// the coordinator below rather than any registry of constructors.
package diagnosis

import "time"

// Action is the sealed set of instructions returned to a node.
type Action interface {
	isAction()
}

// NoAction is returned when no solution matches the well-known event
// identity, or the solution list is empty.
type NoAction struct{}

func (NoAction) isAction() {}

// EventAction instructs the node to act on a named event.
type EventAction struct {
	EventType             string
	EventInstance         string
	Action                string
	Msg                   string
	Labels                map[string]string
	ExpiredTimePeriod     time.Duration
	ExecutableTimePeriod  time.Duration
}

func (EventAction) isAction() {}
