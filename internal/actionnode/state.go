package actionnode

import (
	"encoding/json"
	"time"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// State is the position of a node within its current dispatch.
type State int

const (
	StateIdle State = iota
	StateGoalProduced
	StateRunning
	StateTerminated
	StateDispatchFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGoalProduced:
		return "GOAL_PRODUCED"
	case StateRunning:
		return "RUNNING"
	case StateTerminated:
		return "TERMINATED"
	case StateDispatchFailed:
		return "DISPATCH_FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether s ends a dispatch.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateDispatchFailed
}

// Transition records one step of a dispatch. Attempt numbers dispatches of a
// single node starting at 1.
type Transition struct {
	Node       string            `json:"node"`
	Action     string            `json:"action"`
	Attempt    uint64            `json:"attempt"`
	GoalID     string            `json:"goal_id,omitempty"`
	From       State             `json:"from"`
	To         State             `json:"to"`
	Goal       interface{}       `json:"goal,omitempty"`
	Status     behavior.Status   `json:"-"`
	ResultCode action.ResultCode `json:"-"`
	ErrorCode  action.ErrorCode  `json:"-"`
	Failed     bool              `json:"failed,omitempty"`
	Halted     bool              `json:"halted,omitempty"`
	At         time.Time         `json:"at"`
}

func (t Transition) MarshalJSON() ([]byte, error) {
	type plain Transition
	out := struct {
		plain
		Status     string `json:"status"`
		ResultCode string `json:"result_code,omitempty"`
		ErrorCode  string `json:"error_code,omitempty"`
	}{plain: plain(t), Status: t.Status.String()}
	if t.To == StateTerminated && t.ResultCode != action.ResultUnknown {
		out.ResultCode = t.ResultCode.String()
	}
	if t.Failed {
		out.ErrorCode = t.ErrorCode.String()
	}
	return json.Marshal(out)
}

type Observer interface {
	OnTransition(Transition)
}

type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Observers fans a transition out to several observers in order.
type Observers []Observer

func (o Observers) OnTransition(t Transition) {
	for _, obs := range o {
		if obs != nil {
			obs.OnTransition(t)
		}
	}
}
