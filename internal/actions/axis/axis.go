// Package axis is the MoveAxis action: drive one linear axis to a target
// position. Speed and acceleration may be bound per node at construction;
// axis and position always come from the tree.
package axis

import (
	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/actionnode"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

const (
	TypeName   = "MoveAxis"
	ActionName = "motion/MoveAxis"
)

var (
	PortSpeed         = actionnode.PortName("speed", "mm_s")
	PortAcceleration  = actionnode.PortName("acceleration", "mm_s2")
	PortAxis          = "axis"
	PortPosition      = actionnode.PortName("position", "mm")
	PortFinalPosition = actionnode.PortName("final_position", "mm")
)

type Goal struct {
	Speed        uint32 `json:"speed"`
	Acceleration uint32 `json:"acceleration"`
	Axis         uint32 `json:"axis"`
	Position     uint32 `json:"position"`
}

type Feedback struct {
	Position  uint32 `json:"position"`
	Remaining uint32 `json:"remaining"`
}

type Result struct {
	FinalPosition uint32 `json:"final_position"`
}

type Client = action.Client[Goal, Feedback, Result]

// Template returns the hooks shared by every MoveAxis node.
func Template(logger *zap.Logger) *actionnode.Template[Goal, Feedback, Result] {
	return &actionnode.Template[Goal, Feedback, Result]{
		Inputs: []actionnode.InputField[Goal]{
			actionnode.Uint32Field(PortSpeed, func(g *Goal, v uint32) { g.Speed = v }).
				WithDefault().Describe("travel speed"),
			actionnode.Uint32Field(PortAcceleration, func(g *Goal, v uint32) { g.Acceleration = v }).
				WithDefault().Describe("ramp acceleration"),
			actionnode.Uint32Field(PortAxis, func(g *Goal, v uint32) { g.Axis = v }).
				Describe("axis index"),
			actionnode.Uint32Field(PortPosition, func(g *Goal, v uint32) { g.Position = v }).
				Describe("absolute target"),
		},
		Outputs: []actionnode.OutputField[Result]{
			{Port: PortFinalPosition, Type: "uint32", Description: "position reached",
				Get: func(r Result) interface{} { return r.FinalPosition }},
		},
		Logger: logger,
	}
}

// Ports is the static declaration of MoveAxis.
func Ports() behavior.PortsList {
	return Template(nil).Ports()
}

// Register adds MoveAxis to f.
func Register(f *behavior.Factory, client Client, params actionnode.Params, defaults actionnode.DefaultsSource) error {
	if params.Action == "" {
		params.Action = ActionName
	}
	return actionnode.Register(f, TypeName, params, client, Template(params.Logger), defaults)
}
