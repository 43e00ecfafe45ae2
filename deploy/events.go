package deploy

import (
	"context"
	"fmt"

	"github.com/crux-protocol/forkUniswapV3-EVM/eventbus"
	"github.com/crux-protocol/forkUniswapV3-EVM/internal"
)

var stateKeyNames map[State]string
var namedStateKeys map[string]State

func init() {
	stateKeyNames = map[State]string{
		StateUnknown:    "unknown",
		StateWaiting:    "waiting",
		StateProcessing: "processing",
		StateConfirming: "confirming",
		StateCompleted:  "completed",
		StateFailed:     "failed",
		StateCanceled:   "canceled",
	}

	namedStateKeys = make(map[string]State, len(stateKeyNames))
	for k, v := range stateKeyNames {
		namedStateKeys[v] = k
	}
}

// StateFromString creates a step state from a string
func StateFromString(name string) (State, error) {
	if v, ok := namedStateKeys[name]; ok {
		return v, nil
	}
	return StateUnknown, fmt.Errorf("invalid step state %q", name)
}

// State represents where a step is in its lifecycle
type State uint8

const (
	// StateUnknown indicates the step is unknown
	StateUnknown State = iota
	// StateWaiting indicates the step is known but hasn't started yet
	StateWaiting
	// StateProcessing indicates the step is currently executing
	StateProcessing
	// StateConfirming indicates the step's transactions are awaiting depth
	StateConfirming
	// StateCompleted indicates the step confirmed and was checkpointed
	StateCompleted
	// StateFailed indicates the step has failed
	StateFailed
	// StateCanceled indicates the run was canceled during the step
	StateCanceled
)

func (e State) String() string {
	return stateKeyNames[e]
}

// MarshalText renders this step state to text
func (e State) MarshalText() (text []byte, err error) {
	return []byte(stateKeyNames[e]), nil
}

// UnmarshalText parses this step state from text
func (e *State) UnmarshalText(text []byte) error {
	st, err := StateFromString(string(text))
	if err != nil {
		return err
	}
	*e = st
	return nil
}

const (
	// TopicLifecycle is the event topic for step lifecycle events
	TopicLifecycle = "lifecycle"
	// TopicRun is the event topic for run level transitions
	TopicRun = "run"
)

// StepEvent is emitted for lifecycle transitions of a step
type StepEvent struct {
	Run    string
	Step   string
	State  State
	Reason error
}

// RunEvent is emitted when the whole run reaches a terminal status
type RunEvent struct {
	Run    string
	Status DriverStatus
	Reason error
}

// PublishStepEvent for state transitions of a step
func PublishStepEvent(ctx context.Context, step string, st State, reason error) {
	internal.PublishEvent(ctx, TopicLifecycle, StepEvent{
		Run:    internal.GetRunID(ctx),
		Step:   step,
		State:  st,
		Reason: reason,
	})
}

// PublishRunEvent when the run reaches a terminal status
func PublishRunEvent(ctx context.Context, status DriverStatus, reason error) {
	internal.PublishEvent(ctx, TopicRun, RunEvent{
		Run:    internal.GetRunID(ctx),
		Status: status,
		Reason: reason,
	})
}

// IsLifecycleEvent returns true if this is a step lifecycle event in the given state
func IsLifecycleEvent(evt eventbus.Event, st State) bool {
	return LifecycleEventFilter(st)(evt)
}

// LifecycleEventFilter matches step lifecycle events in a specific state
func LifecycleEventFilter(st State) eventbus.EventPredicate {
	return func(evt eventbus.Event) bool {
		if evt.Name != TopicLifecycle {
			return false
		}
		se, ok := evt.Args.(StepEvent)
		return ok && se.State == st
	}
}
