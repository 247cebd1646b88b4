package actionnode

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

func newTestNode(t *testing.T, client action.Client[testGoal, testFeedback, testResult], hooks Hooks[testGoal, testFeedback, testResult], obs Observer) *Node[testGoal, testFeedback, testResult] {
	t.Helper()
	return New[testGoal, testFeedback, testResult]("move", boundConfig(nil), Params{
		Action:   "test/Move",
		Logger:   zaptest.NewLogger(t),
		Observer: obs,
	}, client, hooks)
}

func TestTemplate_BoundDefaultsResolvedPerField(t *testing.T) {
	cases := []struct {
		name     string
		defaults Defaults
		want     testGoal
	}{
		{"none bound", nil, testGoal{1, 2, 3, 4}},
		{"first bound", Defaults{"default_arg1": Some[any](10)}, testGoal{10, 2, 3, 4}},
		{"second bound", Defaults{"default_arg2": Some[any](20)}, testGoal{1, 20, 3, 4}},
		{"both bound", Defaults{"default_arg1": Some[any](10), "default_arg2": Some[any](20)}, testGoal{10, 20, 3, 4}},
		{"non-defaultable ignored", Defaults{"arg3": Some[any](99)}, testGoal{1, 2, 3, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := newTestTemplate().WithDefaults(tc.defaults)
			var goal testGoal
			ok := tmpl.SetGoal(NewPorts(boundConfig(fullBlackboard())), &goal)
			require.True(t, ok)
			assert.Equal(t, tc.want, goal)
		})
	}
}

func TestTemplate_DefaultCoversMissingPort(t *testing.T) {
	bb := behavior.NewBlackboard()
	bb.Set("arg3", 3)
	bb.Set("arg4", 4)
	tmpl := newTestTemplate().WithDefaults(Defaults{
		"default_arg1": Some[any](7),
		"default_arg2": Some[any](8),
	})

	var goal testGoal
	require.True(t, tmpl.SetGoal(NewPorts(boundConfig(bb)), &goal))
	assert.Equal(t, testGoal{7, 8, 3, 4}, goal)
}

func TestTemplate_MissingRequiredInputRefusesGoal(t *testing.T) {
	bb := fullBlackboard()
	bb.Delete("arg4")
	var goal testGoal
	ok := newTestTemplate().SetGoal(NewPorts(boundConfig(bb)), &goal)
	assert.False(t, ok)
	assert.Equal(t, testGoal{}, goal, "goal stays untouched when refused")
}

func TestTemplate_PortsIndependentOfDefaults(t *testing.T) {
	tmpl := newTestTemplate()
	bound := tmpl.WithDefaults(Defaults{"default_arg1": Some[any](1)})
	assert.Equal(t, tmpl.Ports(), bound.Ports())

	names := make([]string, 0)
	for _, p := range tmpl.Ports() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{PortServerTimeout, "default_arg1", "default_arg2", "arg3", "arg4", "value"}, names)
	out, _ := tmpl.Ports().Lookup("value")
	assert.Equal(t, behavior.PortOutput, out.Direction)
}

func TestTemplate_ResultMapping(t *testing.T) {
	cases := []struct {
		code action.ResultCode
		want behavior.Status
	}{
		{action.ResultSucceeded, behavior.StatusSuccess},
		{action.ResultAborted, behavior.StatusFailure},
		{action.ResultCanceled, behavior.StatusFailure},
		{action.ResultUnknown, behavior.StatusFailure},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			bb := behavior.NewBlackboard()
			p := NewPorts(boundConfig(bb))
			got := newTestTemplate().OnResultReceived(p, action.WrappedResult[testResult]{Code: tc.code, Result: testResult{Value: 42}})
			assert.Equal(t, tc.want, got)
			assert.Equal(t, uint32(42), bb.Get("value"))
		})
	}
}

func TestTemplate_FeedbackAndFailureMapping(t *testing.T) {
	tmpl := newTestTemplate()
	p := NewPorts(behavior.NodeConfig{})
	assert.Equal(t, behavior.StatusRunning, tmpl.OnFeedback(p, testFeedback{}))
	assert.Equal(t, behavior.StatusRunning, tmpl.OnFeedback(p, testFeedback{Progress: 100}))
	for code := action.ErrServerUnreachable; code <= action.ErrInvalidGoal; code++ {
		assert.Equal(t, behavior.StatusFailure, tmpl.OnFailure(p, code), code.String())
	}
}

func TestNode_FullDispatchOrdering(t *testing.T) {
	client := &fakeClient{}
	hooks := &recordingHooks{Hooks: newTestTemplate()}
	obs := &transitions{}
	node := newTestNode(t, client, hooks, obs)
	bb := fullBlackboard()
	ctx := context.Background()

	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	assert.Equal(t, behavior.StatusRunning, accept(t, node, bb))
	require.Len(t, client.sent(), 1)
	assert.Equal(t, testGoal{1, 2, 3, 4}, client.sent()[0])
	assert.Equal(t, StateRunning, node.State())

	h := client.last()
	h.feedback(10)
	h.feedback(50)
	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb), "no events means still running")

	h.result(action.ResultSucceeded, 77)
	assert.Equal(t, behavior.StatusSuccess, node.Tick(ctx, bb))
	assert.Equal(t, StateIdle, node.State())
	assert.Equal(t, uint32(77), bb.Get("value"))

	assert.Equal(t, []string{"goal", "feedback", "feedback", "result"}, hooks.calls)

	for _, tr := range obs.all {
		assert.Equal(t, uint64(1), tr.Attempt)
		assert.Equal(t, "move", tr.Node)
		assert.Equal(t, "test/Move", tr.Action)
	}
	assert.Equal(t, []State{StateGoalProduced, StateRunning, StateTerminated}, obs.states())
	assert.Equal(t, action.ResultSucceeded, obs.last().ResultCode)
}

func TestNode_TickDoesNotWaitForAcceptance(t *testing.T) {
	client := &silentClient{}
	obs := &transitions{}
	bb := fullBlackboard()
	cfg := boundConfig(bb)
	node := New[testGoal, testFeedback, testResult]("move", cfg, Params{ServerTimeout: 200 * time.Millisecond, Observer: obs}, client, newTestTemplate())
	ctx := context.Background()

	start := time.Now()
	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "ticks return while the server is silent")
	assert.Equal(t, StateGoalProduced, node.State())

	assert.Equal(t, behavior.StatusFailure, accept(t, node, bb))
	assert.Equal(t, action.ErrSendGoalTimeout, obs.last().ErrorCode)
	assert.Equal(t, StateIdle, node.State())
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestNode_RedispatchesAfterTerminal(t *testing.T) {
	client := &fakeClient{}
	obs := &transitions{}
	node := newTestNode(t, client, newTestTemplate(), obs)
	bb := fullBlackboard()
	ctx := context.Background()

	node.Tick(ctx, bb)
	accept(t, node, bb)
	client.last().result(action.ResultAborted, 0)
	assert.Equal(t, behavior.StatusFailure, node.Tick(ctx, bb))

	bb.Set("arg3", 30)
	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	accept(t, node, bb)
	require.Len(t, client.sent(), 2)
	assert.Equal(t, uint32(30), client.sent()[1].Arg3)
	assert.Equal(t, uint64(2), obs.last().Attempt)
}

func TestNode_InvalidGoalNeverContactsClient(t *testing.T) {
	client := &fakeClient{}
	hooks := &recordingHooks{Hooks: newTestTemplate()}
	obs := &transitions{}
	node := newTestNode(t, client, hooks, obs)
	bb := fullBlackboard()
	bb.Delete("arg3")

	assert.Equal(t, behavior.StatusFailure, node.Tick(context.Background(), bb))
	assert.Empty(t, client.sent())
	assert.Equal(t, []string{"goal", "failure"}, hooks.calls)
	assert.Equal(t, StateIdle, node.State())

	last := obs.last()
	assert.Equal(t, StateDispatchFailed, last.To)
	assert.Equal(t, action.ErrInvalidGoal, last.ErrorCode)
}

func TestNode_OutOfRangeInputIsInvalidGoal(t *testing.T) {
	for _, raw := range []interface{}{"5000000000", "4294967296", 3.7, -1} {
		t.Run(fmt.Sprint(raw), func(t *testing.T) {
			client := &fakeClient{}
			obs := &transitions{}
			node := newTestNode(t, client, newTestTemplate(), obs)
			bb := fullBlackboard()
			bb.Set("arg3", raw)

			assert.Equal(t, behavior.StatusFailure, node.Tick(context.Background(), bb))
			assert.Empty(t, client.sent())
			assert.Equal(t, action.ErrInvalidGoal, obs.last().ErrorCode)
		})
	}
}

func TestNode_UnboundPortIsInvalidGoal(t *testing.T) {
	client := &fakeClient{}
	obs := &transitions{}
	cfg := boundConfig(nil)
	delete(cfg.Ports, "arg4")
	node := New[testGoal, testFeedback, testResult]("move", cfg, Params{Observer: obs}, client, newTestTemplate())

	// arg4 is on the blackboard but the node never bound the port.
	assert.Equal(t, behavior.StatusFailure, node.Tick(context.Background(), fullBlackboard()))
	assert.Empty(t, client.sent())
	assert.Equal(t, action.ErrInvalidGoal, obs.last().ErrorCode)
}

func TestNode_DispatchErrorsAreFailures(t *testing.T) {
	codes := []action.ErrorCode{
		action.ErrServerUnreachable,
		action.ErrSendGoalTimeout,
		action.ErrGoalRejectedByServer,
		action.ErrActionAborted,
		action.ErrActionCancelled,
	}
	for _, code := range codes {
		t.Run(code.String(), func(t *testing.T) {
			client := &fakeClient{err: action.NewDispatchError(code, nil)}
			hooks := &recordingHooks{Hooks: newTestTemplate()}
			obs := &transitions{}
			node := newTestNode(t, client, hooks, obs)
			bb := fullBlackboard()

			assert.Equal(t, behavior.StatusRunning, node.Tick(context.Background(), bb))
			assert.Equal(t, behavior.StatusFailure, accept(t, node, bb))
			assert.Equal(t, []string{"goal", "failure"}, hooks.calls)
			assert.Equal(t, code, obs.last().ErrorCode)
			assert.Equal(t, StateGoalProduced, obs.last().From)
			assert.Equal(t, StateIdle, node.State())
		})
	}
}

func TestNode_StreamClosedWithoutResult(t *testing.T) {
	client := &fakeClient{}
	hooks := &recordingHooks{Hooks: newTestTemplate()}
	obs := &transitions{}
	node := newTestNode(t, client, hooks, obs)
	ctx := context.Background()
	bb := fullBlackboard()

	node.Tick(ctx, bb)
	accept(t, node, bb)
	close(client.last().events)
	assert.Equal(t, behavior.StatusFailure, node.Tick(ctx, bb))
	assert.Equal(t, []string{"goal", "failure"}, hooks.calls)
	assert.Equal(t, action.ErrActionAborted, obs.last().ErrorCode)
}

type stopOnFeedback struct {
	*Template[testGoal, testFeedback, testResult]
}

func (s stopOnFeedback) OnFeedback(_ Ports, fb testFeedback) behavior.Status {
	if fb.Progress >= 100 {
		return behavior.StatusSuccess
	}
	return behavior.StatusRunning
}

func TestNode_FeedbackCanEndDispatch(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(t, client, stopOnFeedback{newTestTemplate()}, nil)
	ctx := context.Background()
	bb := fullBlackboard()

	node.Tick(ctx, bb)
	accept(t, node, bb)
	h := client.last()
	h.feedback(100)
	h.result(action.ResultSucceeded, 1)

	assert.Equal(t, behavior.StatusSuccess, node.Tick(ctx, bb))
	assert.Equal(t, 1, h.Canceled())
	assert.Equal(t, StateIdle, node.State())
}

func TestNode_HaltCancelsOutstandingGoal(t *testing.T) {
	client := &fakeClient{}
	obs := &transitions{}
	node := newTestNode(t, client, newTestTemplate(), obs)
	ctx := context.Background()
	bb := fullBlackboard()

	node.Halt(ctx)
	assert.Zero(t, obs.count(), "halting an idle node is a no-op")

	node.Tick(ctx, bb)
	accept(t, node, bb)
	node.Halt(ctx)
	assert.Equal(t, 1, client.last().Canceled())
	assert.Equal(t, StateIdle, node.State())
	assert.True(t, obs.last().Halted)
	assert.Equal(t, StateRunning, obs.last().From)

	node.Tick(ctx, bb)
	accept(t, node, bb)
	assert.Len(t, client.sent(), 2)
}

func TestNode_HaltWhileWaitingForAcceptance(t *testing.T) {
	client := &silentClient{}
	obs := &transitions{}
	bb := fullBlackboard()
	node := New[testGoal, testFeedback, testResult]("move", boundConfig(bb), Params{Observer: obs}, client, newTestTemplate())
	ctx := context.Background()

	require.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	node.Halt(ctx)
	assert.Equal(t, StateIdle, node.State())
	last := obs.last()
	assert.True(t, last.Halted)
	assert.Equal(t, StateGoalProduced, last.From)
	assert.Equal(t, action.ErrActionCancelled, last.ErrorCode)

	assert.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb), "next tick starts a fresh dispatch")
	assert.Equal(t, uint64(2), obs.last().Attempt)
	node.Halt(ctx)
}

func TestNode_LateAcceptanceAfterHaltIsCanceled(t *testing.T) {
	client := newGatedClient()
	bb := fullBlackboard()
	node := New[testGoal, testFeedback, testResult]("move", boundConfig(bb), Params{}, client, newTestTemplate())
	ctx := context.Background()

	require.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	node.Halt(ctx)
	close(client.release)

	assert.Eventually(t, func() bool { return client.handle.Canceled() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, node.State())
}

func TestNode_ServerTimeoutPortOverridesParams(t *testing.T) {
	client := &fakeClient{}
	bb := fullBlackboard()
	cfg := boundConfig(bb)
	cfg.Ports[PortServerTimeout] = "250"
	node := New[testGoal, testFeedback, testResult]("move", cfg, Params{ServerTimeout: time.Hour}, client, newTestTemplate())

	node.Tick(context.Background(), nil)
	accept(t, node, nil)
	assert.LessOrEqual(t, client.lastDeadline(), 250*time.Millisecond)
	assert.Greater(t, client.lastDeadline(), time.Duration(0))
}

func TestNode_WithLoopbackClient(t *testing.T) {
	lb := action.NewLoopback[testGoal, testFeedback, testResult](func(_ context.Context, g testGoal, publish func(testFeedback)) (testResult, error) {
		for i := uint32(1); i <= 3; i++ {
			publish(testFeedback{Progress: i})
		}
		return testResult{Value: g.Arg3 + g.Arg4}, nil
	})
	defer lb.Close()

	hooks := &recordingHooks{Hooks: newTestTemplate()}
	node := New[testGoal, testFeedback, testResult]("move", boundConfig(nil), Params{}, lb, hooks)
	bb := fullBlackboard()
	ctx := context.Background()

	require.Equal(t, behavior.StatusRunning, node.Tick(ctx, bb))
	var final behavior.Status
	require.Eventually(t, func() bool {
		final = node.Tick(ctx, bb)
		return final != behavior.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, behavior.StatusSuccess, final)
	assert.Equal(t, uint32(7), bb.Get("value"))
	assert.Equal(t, "goal", hooks.calls[0])
	assert.Equal(t, "result", hooks.calls[len(hooks.calls)-1])
	assert.Len(t, hooks.calls, 5)
}

func TestRegister_FactoryBindsDefaultsByName(t *testing.T) {
	f := behavior.NewFactory()
	client := &fakeClient{}
	defaults := func(name string) Defaults {
		if name == "fast" {
			return Defaults{"default_arg1": Some[any](500)}
		}
		return nil
	}
	require.NoError(t, Register(f, "Move", Params{Action: "test/Move"}, client, newTestTemplate(), defaults))

	ports, err := f.ProvidedPorts("Move")
	require.NoError(t, err)
	assert.Len(t, ports, 6)

	bb := fullBlackboard()
	fast, err := f.Instantiate("Move", "fast", boundConfig(bb))
	require.NoError(t, err)
	slow, err := f.Instantiate("Move", "slow", boundConfig(bb))
	require.NoError(t, err)

	fast.Tick(context.Background(), bb)
	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, time.Millisecond)
	slow.Tick(context.Background(), bb)
	require.Eventually(t, func() bool { return len(client.sent()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint32(500), client.sent()[0].DefaultArg1)
	assert.Equal(t, uint32(1), client.sent()[1].DefaultArg1)
}

func TestTransition_JSON(t *testing.T) {
	raw, err := json.Marshal(Transition{
		Node: "move", From: StateGoalProduced, To: StateDispatchFailed,
		Status: behavior.StatusFailure, ErrorCode: action.ErrGoalRejectedByServer, Failed: true,
	})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"status":"FAILURE"`)
	assert.Contains(t, s, `"to":"DISPATCH_FAILED"`)
	assert.Contains(t, s, `"error_code":"GOAL_REJECTED_BY_SERVER"`)
	assert.NotContains(t, s, "result_code")
}
