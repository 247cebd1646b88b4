// Package actionnode adapts an asynchronous action client to the tick-driven
// behavior tree. One generic Node covers every goal/feedback/result type; the
// per-action behavior lives in a Hooks implementation.
package actionnode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// Hooks is the capability set a node calls at each point of a dispatch.
type Hooks[G, F, R any] interface {
	// SetGoal fills goal from the node's ports. Returning false aborts the
	// dispatch before anything is sent.
	SetGoal(p Ports, goal *G) bool
	OnResultReceived(p Ports, res action.WrappedResult[R]) behavior.Status
	OnFeedback(p Ports, feedback F) behavior.Status
	OnFailure(p Ports, code action.ErrorCode) behavior.Status
}

// StatusMapping provides the default result/feedback/failure mapping. Embed it
// in a Hooks implementation that only needs to customize SetGoal.
type StatusMapping[F, R any] struct{}

func (StatusMapping[F, R]) OnResultReceived(_ Ports, res action.WrappedResult[R]) behavior.Status {
	if res.Code == action.ResultSucceeded {
		return behavior.StatusSuccess
	}
	return behavior.StatusFailure
}

func (StatusMapping[F, R]) OnFeedback(Ports, F) behavior.Status {
	return behavior.StatusRunning
}

func (StatusMapping[F, R]) OnFailure(Ports, action.ErrorCode) behavior.Status {
	return behavior.StatusFailure
}

// Params are the protocol-side settings of a node.
type Params struct {
	// Action names the remote action; carried into transitions and logs.
	Action        string
	ServerTimeout time.Duration
	Logger        *zap.Logger
	Observer      Observer
}

// Node is a behavior tree leaf that runs one goal per activation. Tick never
// blocks: sending the goal and waiting for acceptance happen on a separate
// goroutine, and events are drained without waiting.
type Node[G, F, R any] struct {
	name   string
	cfg    behavior.NodeConfig
	params Params
	client action.Client[G, F, R]
	hooks  Hooks[G, F, R]
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	attempt uint64
	pending *pendingGoal[F, R]
	handle  action.Handle[F, R]
}

type sendOutcome[F, R any] struct {
	handle action.Handle[F, R]
	err    error
}

// pendingGoal is a SendGoal call still waiting for the server to accept or
// reject the goal.
type pendingGoal[F, R any] struct {
	cancel context.CancelFunc
	done   chan sendOutcome[F, R]

	mu        sync.Mutex
	abandoned bool
}

func (pg *pendingGoal[F, R]) resolve(out sendOutcome[F, R]) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.abandoned {
		if out.handle != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = out.handle.Cancel(ctx)
		}
		return
	}
	pg.done <- out
}

// abandon stops waiting for the send. A goal the server accepts anyway is
// canceled as soon as its handle shows up.
func (pg *pendingGoal[F, R]) abandon(ctx context.Context) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.abandoned = true
	pg.cancel()
	select {
	case out := <-pg.done:
		if out.handle != nil {
			_ = out.handle.Cancel(ctx)
		}
	default:
	}
}

func New[G, F, R any](name string, cfg behavior.NodeConfig, params Params, client action.Client[G, F, R], hooks Hooks[G, F, R]) *Node[G, F, R] {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node[G, F, R]{
		name:   name,
		cfg:    cfg,
		params: params,
		client: client,
		hooks:  hooks,
		log:    logger.Named("actionnode").With(zap.String("node", name), zap.String("action", params.Action)),
	}
}

func (n *Node[G, F, R]) Name() string { return n.name }

func (n *Node[G, F, R]) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node[G, F, R]) Tick(ctx context.Context, bb *behavior.Blackboard) behavior.Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	cfg := n.cfg
	if cfg.Blackboard == nil {
		cfg.Blackboard = bb
	}
	p := NewPorts(cfg)

	switch n.state {
	case StateIdle:
		return n.dispatch(ctx, p)
	case StateGoalProduced:
		return n.awaitAccept(ctx, p)
	default:
		return n.poll(ctx, p)
	}
}

// dispatch produces a goal and starts sending it. The send outlives the tick
// that started it; it ends on acceptance, rejection, the server timeout or a
// halt.
func (n *Node[G, F, R]) dispatch(ctx context.Context, p Ports) behavior.Status {
	n.attempt++

	var goal G
	if !n.hooks.SetGoal(p, &goal) {
		n.log.Warn("goal not produced, dispatch aborted")
		return n.fail(p, StateGoalProduced, "", action.ErrInvalidGoal)
	}
	n.state = StateGoalProduced
	n.emit(Transition{From: StateIdle, To: StateGoalProduced, Goal: goal, Status: behavior.StatusRunning})

	timeout := n.params.ServerTimeout
	if ms, err := p.Uint32(PortServerTimeout); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	base := context.WithoutCancel(ctx)
	var sendCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		sendCtx, cancel = context.WithTimeout(base, timeout)
	} else {
		sendCtx, cancel = context.WithCancel(base)
	}

	pg := &pendingGoal[F, R]{cancel: cancel, done: make(chan sendOutcome[F, R], 1)}
	n.pending = pg
	client := n.client
	go func() {
		h, err := client.SendGoal(sendCtx, goal)
		pg.resolve(sendOutcome[F, R]{handle: h, err: err})
	}()
	return behavior.StatusRunning
}

// awaitAccept picks up the outcome of the pending send if there is one.
func (n *Node[G, F, R]) awaitAccept(ctx context.Context, p Ports) behavior.Status {
	var out sendOutcome[F, R]
	select {
	case out = <-n.pending.done:
	default:
		return behavior.StatusRunning
	}
	n.pending.cancel()
	n.pending = nil

	if out.err != nil {
		code := action.CodeOf(out.err)
		n.log.Warn("dispatch failed", zap.Stringer("code", code), zap.Error(out.err))
		return n.fail(p, StateGoalProduced, "", code)
	}

	n.handle = out.handle
	n.state = StateRunning
	n.log.Debug("goal accepted", zap.String("goal_id", out.handle.GoalID()))
	n.emit(Transition{From: StateGoalProduced, To: StateRunning, GoalID: out.handle.GoalID(), Status: behavior.StatusRunning})
	return n.poll(ctx, p)
}

// poll drains whatever the client has delivered so far without blocking.
func (n *Node[G, F, R]) poll(ctx context.Context, p Ports) behavior.Status {
	goalID := n.handle.GoalID()
	for {
		select {
		case ev, ok := <-n.handle.Events():
			if !ok {
				n.handle = nil
				n.log.Warn("event stream ended without a result", zap.String("goal_id", goalID))
				return n.fail(p, StateRunning, goalID, action.ErrActionAborted)
			}
			if ev.Result != nil {
				status := n.hooks.OnResultReceived(p, *ev.Result)
				n.handle = nil
				n.state = StateIdle
				n.log.Debug("result received", zap.String("goal_id", goalID),
					zap.Stringer("code", ev.Result.Code), zap.Stringer("status", status))
				n.emit(Transition{From: StateRunning, To: StateTerminated, GoalID: goalID,
					Status: status, ResultCode: ev.Result.Code})
				return status
			}
			if ev.Feedback == nil {
				continue
			}
			status := n.hooks.OnFeedback(p, *ev.Feedback)
			if status == behavior.StatusRunning {
				continue
			}
			// Feedback decided the outcome; the remote goal is no longer wanted.
			n.cancelHandle(ctx)
			n.state = StateIdle
			n.emit(Transition{From: StateRunning, To: StateTerminated, GoalID: goalID, Status: status})
			return status
		default:
			return behavior.StatusRunning
		}
	}
}

func (n *Node[G, F, R]) fail(p Ports, from State, goalID string, code action.ErrorCode) behavior.Status {
	status := n.hooks.OnFailure(p, code)
	n.state = StateIdle
	n.emit(Transition{From: from, To: StateDispatchFailed, GoalID: goalID, Status: status, ErrorCode: code, Failed: true})
	return status
}

// Halt cancels an outstanding goal, including one the server has not yet
// accepted, and returns the node to idle.
func (n *Node[G, F, R]) Halt(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var goalID string
	from := n.state
	switch {
	case from == StateGoalProduced && n.pending != nil:
		n.pending.abandon(ctx)
		n.pending = nil
	case from == StateRunning && n.handle != nil:
		goalID = n.handle.GoalID()
		n.cancelHandle(ctx)
	default:
		return
	}
	n.state = StateIdle
	n.log.Info("halted", zap.Stringer("state", from), zap.String("goal_id", goalID))
	n.emit(Transition{From: from, To: StateDispatchFailed, GoalID: goalID,
		Status: behavior.StatusFailure, ErrorCode: action.ErrActionCancelled, Failed: true, Halted: true})
}

func (n *Node[G, F, R]) cancelHandle(ctx context.Context) {
	if n.handle == nil {
		return
	}
	if err := n.handle.Cancel(ctx); err != nil {
		n.log.Warn("cancel goal", zap.String("goal_id", n.handle.GoalID()), zap.Error(err))
	}
	n.handle = nil
}

func (n *Node[G, F, R]) emit(t Transition) {
	if n.params.Observer == nil {
		return
	}
	t.Node = n.name
	t.Action = n.params.Action
	t.Attempt = n.attempt
	t.At = time.Now().UTC()
	n.params.Observer.OnTransition(t)
}
