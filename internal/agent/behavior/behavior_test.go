package behavior

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	statuses []Status
	ticks    int
	halts    int
}

func (s *stubNode) Tick(context.Context, *Blackboard) Status {
	st := s.statuses[min(s.ticks, len(s.statuses)-1)]
	s.ticks++
	return st
}

func (s *stubNode) Halt(context.Context) { s.halts++ }

func TestBlackboard_LookupAndUint32(t *testing.T) {
	bb := NewBlackboard()
	bb.Set("speed", "120")
	bb.Set("neg", -3)

	v, ok := bb.GetUint32("speed")
	require.True(t, ok)
	assert.Equal(t, uint32(120), v)

	_, ok = bb.GetUint32("neg")
	assert.False(t, ok, "negative values are not unsigned")

	bb.Set("huge", "5000000000")
	_, ok = bb.GetUint32("huge")
	assert.False(t, ok, "out of range values do not wrap")
	bb.Delete("huge")

	_, ok = bb.Lookup("absent")
	assert.False(t, ok)

	bb.Delete("neg")
	assert.Equal(t, []string{"speed"}, bb.Keys())
}

func TestInput_RemapAndLiteral(t *testing.T) {
	bb := NewBlackboard()
	bb.Set("target", 7)
	bb.Set("axis", 2)
	cfg := NodeConfig{Blackboard: bb, Ports: map[string]string{
		"position": "{target}",
		"speed":    "40",
	}}

	pos, err := InputUint32(cfg, "position")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), pos)

	speed, err := InputUint32(cfg, "speed")
	require.NoError(t, err)
	assert.Equal(t, uint32(40), speed)

	// A blackboard entry named like the port is not read unless bound.
	_, err = InputUint32(cfg, "axis")
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = InputUint32(cfg, "acceleration")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestInput_RemapToUnsetKeyIsMissing(t *testing.T) {
	cfg := NodeConfig{Blackboard: NewBlackboard(), Ports: map[string]string{"position": "{nowhere}"}}
	_, err := Input(cfg, "position")
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = Input(NodeConfig{Ports: map[string]string{"position": "{target}"}}, "position")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestInputUint32_ConversionError(t *testing.T) {
	cases := []struct {
		name string
		raw  interface{}
	}{
		{"word", "fast"},
		{"negative", -3},
		{"negative string", "-1"},
		{"fraction", 3.7},
		{"fraction string", "3.7"},
		{"just past max", "4294967296"},
		{"far past max", "5000000000"},
		{"large uint64", uint64(1) << 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bb := NewBlackboard()
			bb.Set("v", tc.raw)
			cfg := NodeConfig{Blackboard: bb, Ports: map[string]string{"speed": "{v}"}}
			_, err := InputUint32(cfg, "speed")
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrMissingInput)
		})
	}
}

func TestToUint32_Accepts(t *testing.T) {
	cases := []struct {
		raw  interface{}
		want uint32
	}{
		{"0", 0},
		{"4294967295", 4294967295},
		{uint64(4294967295), 4294967295},
		{12, 12},
		{12.0, 12},
		{"250", 250},
	}
	for _, tc := range cases {
		got, err := ToUint32(tc.raw)
		require.NoError(t, err, "%v", tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestSetOutput(t *testing.T) {
	bb := NewBlackboard()
	cfg := NodeConfig{Blackboard: bb, Ports: map[string]string{"result": "{last_result}"}}

	require.NoError(t, SetOutput(cfg, "result", 11))
	assert.Equal(t, 11, bb.Get("last_result"))

	require.NoError(t, SetOutput(cfg, "other", "x"))
	assert.Equal(t, "x", bb.GetString("other"))

	cfg.Ports["bad"] = "literal"
	assert.Error(t, SetOutput(cfg, "bad", 1))
}

func TestPortsList_Merge(t *testing.T) {
	base := PortsList{InputPort("server_timeout", "duration", "")}
	merged := base.Merge(InputPort("a", "uint32", ""), InputPort("server_timeout", "string", ""))
	require.Len(t, merged, 2)
	assert.Equal(t, "duration", merged[0].Type)
	assert.Len(t, base, 1)
}

func TestSequence_ResumesRunningChild(t *testing.T) {
	first := &stubNode{statuses: []Status{StatusSuccess}}
	second := &stubNode{statuses: []Status{StatusRunning, StatusRunning, StatusSuccess}}
	seq := &Sequence{Children: []Node{first, second}}
	ctx := context.Background()
	bb := NewBlackboard()

	assert.Equal(t, StatusRunning, seq.Tick(ctx, bb))
	assert.Equal(t, StatusRunning, seq.Tick(ctx, bb))
	assert.Equal(t, StatusSuccess, seq.Tick(ctx, bb))
	assert.Equal(t, 1, first.ticks, "finished children are not re-ticked")
	assert.Equal(t, 3, second.ticks)
	assert.Zero(t, second.halts)

	// The next activation starts over.
	assert.Equal(t, StatusSuccess, seq.Tick(ctx, bb))
	assert.Equal(t, 2, first.ticks)
}

func TestSequence_FailureResetsAndHalts(t *testing.T) {
	first := &stubNode{statuses: []Status{StatusSuccess}}
	second := &stubNode{statuses: []Status{StatusRunning, StatusFailure}}
	third := &stubNode{statuses: []Status{StatusSuccess}}
	seq := &Sequence{Children: []Node{first, second, third}}
	ctx := context.Background()

	assert.Equal(t, StatusRunning, seq.Tick(ctx, NewBlackboard()))
	assert.Equal(t, StatusFailure, seq.Tick(ctx, NewBlackboard()))
	assert.Equal(t, 1, third.halts)
	assert.Zero(t, third.ticks)

	assert.Equal(t, StatusFailure, seq.Tick(ctx, NewBlackboard()))
	assert.Equal(t, 2, first.ticks, "failure restarts from the first child")
}

func TestSequence_HaltResetsIndex(t *testing.T) {
	first := &stubNode{statuses: []Status{StatusSuccess}}
	second := &stubNode{statuses: []Status{StatusRunning}}
	seq := &Sequence{Children: []Node{first, second}}
	ctx := context.Background()

	seq.Tick(ctx, NewBlackboard())
	seq.Halt(ctx)
	assert.Equal(t, 1, second.halts)
	seq.Tick(ctx, NewBlackboard())
	assert.Equal(t, 2, first.ticks)
}

func TestReactiveSequence_HaltsTrailingChildrenOnFailure(t *testing.T) {
	first := &stubNode{statuses: []Status{StatusSuccess, StatusFailure}}
	second := &stubNode{statuses: []Status{StatusRunning}}
	seq := &ReactiveSequence{Children: []Node{first, second}}
	ctx := context.Background()

	assert.Equal(t, StatusRunning, seq.Tick(ctx, NewBlackboard()))
	assert.Equal(t, StatusFailure, seq.Tick(ctx, NewBlackboard()))
	assert.Equal(t, 1, second.halts)
	assert.Equal(t, 1, second.ticks)
}

func TestSelector_ResumesRunningChild(t *testing.T) {
	a := &stubNode{statuses: []Status{StatusFailure}}
	b := &stubNode{statuses: []Status{StatusRunning, StatusSuccess}}
	c := &stubNode{statuses: []Status{StatusSuccess}}
	sel := &Selector{Children: []Node{a, b, c}}
	ctx := context.Background()

	assert.Equal(t, StatusRunning, sel.Tick(ctx, NewBlackboard()))
	assert.Equal(t, StatusSuccess, sel.Tick(ctx, NewBlackboard()))
	assert.Equal(t, 1, a.ticks)
	assert.Zero(t, c.ticks)
}

func TestSelector_AllFail(t *testing.T) {
	a := &stubNode{statuses: []Status{StatusFailure}}
	b := &stubNode{statuses: []Status{StatusFailure}}
	sel := &Selector{Children: []Node{a, b}}

	assert.Equal(t, StatusFailure, sel.Tick(context.Background(), NewBlackboard()))
	assert.Equal(t, StatusFailure, sel.Tick(context.Background(), NewBlackboard()))
	assert.Equal(t, 2, a.ticks)
}

func TestReactiveSelector_StopsAtFirstNonFailure(t *testing.T) {
	a := &stubNode{statuses: []Status{StatusFailure}}
	b := &stubNode{statuses: []Status{StatusSuccess}}
	c := &stubNode{statuses: []Status{StatusSuccess}}
	sel := &ReactiveSelector{Children: []Node{a, b, c}}

	assert.Equal(t, StatusSuccess, sel.Tick(context.Background(), NewBlackboard()))
	assert.Equal(t, 0, c.ticks)
	assert.Equal(t, 1, c.halts)
}

func TestParallel_FailureHaltsEveryone(t *testing.T) {
	a := &stubNode{statuses: []Status{StatusRunning}}
	b := &stubNode{statuses: []Status{StatusFailure}}
	par := &Parallel{Children: []Node{a, b}}

	assert.Equal(t, StatusFailure, par.Tick(context.Background(), NewBlackboard()))
	assert.Equal(t, 1, a.halts)
}

func TestParallel_RunningUntilAllSucceed(t *testing.T) {
	a := &stubNode{statuses: []Status{StatusSuccess, StatusRunning}}
	b := &stubNode{statuses: []Status{StatusRunning, StatusSuccess}}
	par := &Parallel{Children: []Node{a, b}}
	ctx := context.Background()

	assert.Equal(t, StatusRunning, par.Tick(ctx, NewBlackboard()))
	assert.Equal(t, StatusSuccess, par.Tick(ctx, NewBlackboard()))
	assert.Equal(t, 1, a.ticks, "a succeeded child waits for its siblings")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusSuccess.String())
	assert.Equal(t, "FAILURE", StatusFailure.String())
	assert.Equal(t, "RUNNING", StatusRunning.String())
	assert.Equal(t, "UNKNOWN", Status(42).String())
	assert.False(t, StatusRunning.Done())
}
