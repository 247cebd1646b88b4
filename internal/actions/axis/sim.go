package axis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/bt-action-bridge/internal/action"
)

// Sim is a simulated set of axes. Each goal moves its axis in fixed steps,
// publishing feedback after every step.
type Sim struct {
	Axes    uint32
	Limit   uint32
	StepDur time.Duration

	mu  sync.Mutex
	pos map[uint32]uint32
}

func NewSim(axes, limit uint32) *Sim {
	return &Sim{Axes: axes, Limit: limit, StepDur: 20 * time.Millisecond, pos: make(map[uint32]uint32)}
}

// Accept rejects goals the hardware could never execute.
func (s *Sim) Accept(g Goal) error {
	if g.Axis >= s.Axes {
		return fmt.Errorf("axis %d out of range [0,%d)", g.Axis, s.Axes)
	}
	if g.Speed == 0 {
		return errors.New("speed must be positive")
	}
	return nil
}

func (s *Sim) Position(axis uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[axis]
}

// Execute is an action.Handler. Targets beyond Limit abort at the limit.
func (s *Sim) Execute(ctx context.Context, g Goal, publish func(Feedback)) (Result, error) {
	step := g.Speed * uint32(s.StepDur/time.Millisecond) / 1000
	if step == 0 {
		step = 1
	}
	target := g.Position
	aborted := false
	if s.Limit > 0 && target > s.Limit {
		target = s.Limit
		aborted = true
	}

	ticker := time.NewTicker(s.StepDur)
	defer ticker.Stop()
	for {
		cur := s.Position(g.Axis)
		if cur == target {
			if aborted {
				return Result{FinalPosition: cur}, fmt.Errorf("limit %d reached: %w", s.Limit, action.ErrAborted)
			}
			return Result{FinalPosition: cur}, nil
		}
		select {
		case <-ctx.Done():
			return Result{FinalPosition: cur}, ctx.Err()
		case <-ticker.C:
		}
		next := moveToward(cur, target, step)
		s.mu.Lock()
		s.pos[g.Axis] = next
		s.mu.Unlock()
		publish(Feedback{Position: next, Remaining: distance(next, target)})
	}
}

// Loopback serves the sim in-process.
func (s *Sim) Loopback() *action.Loopback[Goal, Feedback, Result] {
	lb := action.NewLoopback[Goal, Feedback, Result](s.Execute)
	lb.Accept = s.Accept
	return lb
}

func moveToward(cur, target, step uint32) uint32 {
	if cur < target {
		if target-cur <= step {
			return target
		}
		return cur + step
	}
	if cur-target <= step {
		return target
	}
	return cur - step
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
