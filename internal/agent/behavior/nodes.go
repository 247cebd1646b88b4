package behavior

import (
	"context"

	"github.com/spf13/cast"
)

// ActionNode is a helper for simple function-based nodes
type ActionNode struct {
	Action func(ctx context.Context, bb *Blackboard) Status
	OnHalt func(ctx context.Context)
}

func (n *ActionNode) Tick(ctx context.Context, bb *Blackboard) Status {
	return n.Action(ctx, bb)
}

func (n *ActionNode) Halt(ctx context.Context) {
	if n.OnHalt != nil {
		n.OnHalt(ctx)
	}
}

// ConditionNode is a helper for simple boolean checks
type ConditionNode struct {
	Condition func(ctx context.Context, bb *Blackboard) bool
}

func (n *ConditionNode) Tick(ctx context.Context, bb *Blackboard) Status {
	if n.Condition(ctx, bb) {
		return StatusSuccess
	}
	return StatusFailure
}

const (
	TypeSetBlackboard   = "SetBlackboard"
	TypeCheckBlackboard = "CheckBlackboard"
)

// RegisterBuiltins adds the blackboard utility leaves every tree can use.
func RegisterBuiltins(f *Factory) error {
	setPorts := PortsList{
		InputPort("value", "string", "literal or {key} to copy"),
		OutputPort("output_key", "any", "{key} receiving the value"),
	}
	err := f.Register(TypeSetBlackboard, setPorts, func(_ string, cfg NodeConfig) (Node, error) {
		return &ActionNode{Action: func(_ context.Context, _ *Blackboard) Status {
			v, err := Input(cfg, "value")
			if err != nil {
				return StatusFailure
			}
			if err := SetOutput(cfg, "output_key", v); err != nil {
				return StatusFailure
			}
			return StatusSuccess
		}}, nil
	})
	if err != nil {
		return err
	}

	checkPorts := PortsList{
		InputPort("value", "string", "value to compare, usually {key}"),
		InputPort("expected", "string", "expected value"),
	}
	return f.Register(TypeCheckBlackboard, checkPorts, func(_ string, cfg NodeConfig) (Node, error) {
		return &ConditionNode{Condition: func(_ context.Context, _ *Blackboard) bool {
			got, err := Input(cfg, "value")
			if err != nil {
				return false
			}
			want, err := Input(cfg, "expected")
			if err != nil {
				return false
			}
			return cast.ToString(got) == cast.ToString(want)
		}}, nil
	})
}
