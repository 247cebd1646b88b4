package behavior

import "context"

type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Done reports whether the status ends the current execution of a node.
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusFailure
}

type Node interface {
	Tick(ctx context.Context, bb *Blackboard) Status
}

// Halter is implemented by nodes that hold work open across ticks and must
// release it when a parent stops ticking them.
type Halter interface {
	Halt(ctx context.Context)
}

// HaltNode halts n if it supports halting.
func HaltNode(ctx context.Context, n Node) {
	if h, ok := n.(Halter); ok {
		h.Halt(ctx)
	}
}
