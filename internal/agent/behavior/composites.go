package behavior

import "context"

// Sequence ticks children in order and remembers where it stopped: a child
// that returned running is resumed on the next tick without re-ticking the
// ones that already succeeded. The index resets when the sequence finishes
// or is halted.
type Sequence struct {
	Children []Node
	current  int
}

func (s *Sequence) Tick(ctx context.Context, bb *Blackboard) Status {
	for s.current < len(s.Children) {
		switch s.Children[s.current].Tick(ctx, bb) {
		case StatusRunning:
			return StatusRunning
		case StatusFailure:
			s.Halt(ctx)
			return StatusFailure
		default:
			s.current++
		}
	}
	s.current = 0
	return StatusSuccess
}

func (s *Sequence) Halt(ctx context.Context) {
	s.current = 0
	haltAll(ctx, s.Children)
}

// Selector ticks children in order until one does not fail, resuming a
// running child the same way Sequence does.
type Selector struct {
	Children []Node
	current  int
}

func (s *Selector) Tick(ctx context.Context, bb *Blackboard) Status {
	for s.current < len(s.Children) {
		switch s.Children[s.current].Tick(ctx, bb) {
		case StatusRunning:
			return StatusRunning
		case StatusSuccess:
			s.Halt(ctx)
			return StatusSuccess
		default:
			s.current++
		}
	}
	s.current = 0
	return StatusFailure
}

func (s *Selector) Halt(ctx context.Context) {
	s.current = 0
	haltAll(ctx, s.Children)
}

// ReactiveSequence restarts from the first child on every tick, so earlier
// conditions are re-checked while a later child runs. Children after the
// deciding child are halted. Only put leaves that finish within one tick
// before a long running child.
type ReactiveSequence struct {
	Children []Node
}

func (s *ReactiveSequence) Tick(ctx context.Context, bb *Blackboard) Status {
	for i, child := range s.Children {
		status := child.Tick(ctx, bb)
		if status != StatusSuccess {
			haltAll(ctx, s.Children[i+1:])
			return status
		}
	}
	return StatusSuccess
}

func (s *ReactiveSequence) Halt(ctx context.Context) {
	haltAll(ctx, s.Children)
}

// ReactiveSelector restarts from the first child on every tick; a higher
// priority child that stops failing preempts the running one.
type ReactiveSelector struct {
	Children []Node
}

func (s *ReactiveSelector) Tick(ctx context.Context, bb *Blackboard) Status {
	for i, child := range s.Children {
		status := child.Tick(ctx, bb)
		if status != StatusFailure {
			haltAll(ctx, s.Children[i+1:])
			return status
		}
	}
	return StatusFailure
}

func (s *ReactiveSelector) Halt(ctx context.Context) {
	haltAll(ctx, s.Children)
}

// Parallel ticks every unfinished child each round. It succeeds once all
// children have succeeded and fails as soon as one fails, halting the rest.
// Children that already succeeded are not ticked again until the parallel
// finishes or is halted.
type Parallel struct {
	Children []Node
	done     map[int]bool
}

func (p *Parallel) Tick(ctx context.Context, bb *Blackboard) Status {
	if p.done == nil {
		p.done = make(map[int]bool, len(p.Children))
	}
	for i, child := range p.Children {
		if p.done[i] {
			continue
		}
		switch child.Tick(ctx, bb) {
		case StatusFailure:
			p.Halt(ctx)
			return StatusFailure
		case StatusSuccess:
			p.done[i] = true
		}
	}
	if len(p.done) < len(p.Children) {
		return StatusRunning
	}
	p.done = nil
	return StatusSuccess
}

func (p *Parallel) Halt(ctx context.Context) {
	p.done = nil
	haltAll(ctx, p.Children)
}

func haltAll(ctx context.Context, nodes []Node) {
	for _, n := range nodes {
		HaltNode(ctx, n)
	}
}
