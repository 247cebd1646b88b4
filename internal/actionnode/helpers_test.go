package actionnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

type testGoal struct {
	DefaultArg1 uint32
	DefaultArg2 uint32
	Arg3        uint32
	Arg4        uint32
}

type testFeedback struct{ Progress uint32 }

type testResult struct{ Value uint32 }

func newTestTemplate() *Template[testGoal, testFeedback, testResult] {
	return &Template[testGoal, testFeedback, testResult]{
		Inputs: []InputField[testGoal]{
			Uint32Field("default_arg1", func(g *testGoal, v uint32) { g.DefaultArg1 = v }).WithDefault(),
			Uint32Field("default_arg2", func(g *testGoal, v uint32) { g.DefaultArg2 = v }).WithDefault(),
			Uint32Field("arg3", func(g *testGoal, v uint32) { g.Arg3 = v }),
			Uint32Field("arg4", func(g *testGoal, v uint32) { g.Arg4 = v }),
		},
		Outputs: []OutputField[testResult]{
			{Port: "value", Type: "uint32", Get: func(r testResult) interface{} { return r.Value }},
		},
	}
}

// testPorts binds every template port to the blackboard key of the same name.
func testPorts() map[string]string {
	return map[string]string{
		"default_arg1": "{default_arg1}",
		"default_arg2": "{default_arg2}",
		"arg3":         "{arg3}",
		"arg4":         "{arg4}",
		"value":        "{value}",
	}
}

func boundConfig(bb *behavior.Blackboard) behavior.NodeConfig {
	return behavior.NodeConfig{Blackboard: bb, Ports: testPorts()}
}

func fullBlackboard() *behavior.Blackboard {
	bb := behavior.NewBlackboard()
	bb.Set("default_arg1", 1)
	bb.Set("default_arg2", 2)
	bb.Set("arg3", 3)
	bb.Set("arg4", 4)
	return bb
}

type fakeHandle struct {
	id       string
	events   chan action.Event[testFeedback, testResult]
	mu       sync.Mutex
	canceled int
}

func (h *fakeHandle) GoalID() string { return h.id }

func (h *fakeHandle) Events() <-chan action.Event[testFeedback, testResult] { return h.events }

func (h *fakeHandle) Cancel(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled++
	return nil
}

func (h *fakeHandle) Canceled() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

func (h *fakeHandle) feedback(progress uint32) {
	fb := testFeedback{Progress: progress}
	h.events <- action.Event[testFeedback, testResult]{Feedback: &fb}
}

func (h *fakeHandle) result(code action.ResultCode, value uint32) {
	h.events <- action.Event[testFeedback, testResult]{Result: &action.WrappedResult[testResult]{
		GoalID: h.id, Code: code, Result: testResult{Value: value},
	}}
}

// fakeClient accepts goals as soon as they are sent and hands out scripted
// handles. SendGoal runs on the node's send goroutine.
type fakeClient struct {
	err error

	mu       sync.Mutex
	goals    []testGoal
	handles  []*fakeHandle
	deadline time.Duration
}

func (c *fakeClient) SendGoal(ctx context.Context, goal testGoal) (action.Handle[testFeedback, testResult], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		c.deadline = time.Until(dl)
	}
	c.goals = append(c.goals, goal)
	if c.err != nil {
		return nil, c.err
	}
	h := &fakeHandle{id: fmt.Sprintf("goal-%d", len(c.handles)+1), events: make(chan action.Event[testFeedback, testResult], 16)}
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeClient) sent() []testGoal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]testGoal(nil), c.goals...)
}

func (c *fakeClient) last() *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[len(c.handles)-1]
}

func (c *fakeClient) lastDeadline() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// silentClient never answers: SendGoal waits until its context ends.
type silentClient struct {
	calls atomic.Int32
}

func (c *silentClient) SendGoal(ctx context.Context, _ testGoal) (action.Handle[testFeedback, testResult], error) {
	c.calls.Add(1)
	<-ctx.Done()
	return nil, action.NewDispatchError(action.CodeOf(ctx.Err()), ctx.Err())
}

// gatedClient accepts a goal only once release is closed, whatever the
// context says.
type gatedClient struct {
	release chan struct{}
	handle  *fakeHandle
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		release: make(chan struct{}),
		handle:  &fakeHandle{id: "late", events: make(chan action.Event[testFeedback, testResult], 1)},
	}
}

func (c *gatedClient) SendGoal(context.Context, testGoal) (action.Handle[testFeedback, testResult], error) {
	<-c.release
	return c.handle, nil
}

// accept ticks n until the pending send has been answered and returns the
// status of that tick.
func accept(t *testing.T, n *Node[testGoal, testFeedback, testResult], bb *behavior.Blackboard) behavior.Status {
	t.Helper()
	var st behavior.Status
	require.Eventually(t, func() bool {
		st = n.Tick(context.Background(), bb)
		return n.State() != StateGoalProduced
	}, 2*time.Second, time.Millisecond)
	return st
}

// recordingHooks wraps hooks and logs the order of every call.
type recordingHooks struct {
	Hooks[testGoal, testFeedback, testResult]
	calls []string
}

func (r *recordingHooks) SetGoal(p Ports, g *testGoal) bool {
	r.calls = append(r.calls, "goal")
	return r.Hooks.SetGoal(p, g)
}

func (r *recordingHooks) OnResultReceived(p Ports, res action.WrappedResult[testResult]) behavior.Status {
	r.calls = append(r.calls, "result")
	return r.Hooks.OnResultReceived(p, res)
}

func (r *recordingHooks) OnFeedback(p Ports, fb testFeedback) behavior.Status {
	r.calls = append(r.calls, "feedback")
	return r.Hooks.OnFeedback(p, fb)
}

func (r *recordingHooks) OnFailure(p Ports, code action.ErrorCode) behavior.Status {
	r.calls = append(r.calls, "failure")
	return r.Hooks.OnFailure(p, code)
}

// transitions is an Observer that keeps everything it sees.
type transitions struct {
	mu  sync.Mutex
	all []Transition
}

func (t *transitions) OnTransition(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all = append(t.all, tr)
}

func (t *transitions) last() Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.all[len(t.all)-1]
}

func (t *transitions) states() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.all))
	for _, tr := range t.all {
		out = append(out, tr.To)
	}
	return out
}

func (t *transitions) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.all)
}
