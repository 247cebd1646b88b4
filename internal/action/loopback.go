package action

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAborted is returned by handlers that give up on a goal; the client sees
// ResultAborted.
var ErrAborted = errors.New("action aborted")

// Handler executes one goal, publishing feedback as it goes.
type Handler[G, F, R any] func(ctx context.Context, goal G, publish func(F)) (R, error)

// Loopback is an in-process Client whose goals are executed by a Handler on
// their own goroutines.
type Loopback[G, F, R any] struct {
	handler Handler[G, F, R]
	// Accept may reject a goal before it starts.
	Accept func(G) error
	// Buffer is the per-goal event queue depth.
	Buffer int

	mu     sync.Mutex
	closed bool
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoopback[G, F, R any](handler Handler[G, F, R]) *Loopback[G, F, R] {
	return &Loopback[G, F, R]{
		handler: handler,
		Buffer:  64,
		active:  make(map[string]context.CancelFunc),
	}
}

type loopbackHandle[F, R any] struct {
	id     string
	events chan Event[F, R]
	cancel context.CancelFunc
}

func (h *loopbackHandle[F, R]) GoalID() string             { return h.id }
func (h *loopbackHandle[F, R]) Events() <-chan Event[F, R] { return h.events }

func (h *loopbackHandle[F, R]) Cancel(context.Context) error {
	h.cancel()
	return nil
}

func (l *Loopback[G, F, R]) SendGoal(ctx context.Context, goal G) (Handle[F, R], error) {
	if err := ctx.Err(); err != nil {
		return nil, NewDispatchError(CodeOf(err), err)
	}
	if l.Accept != nil {
		if err := l.Accept(goal); err != nil {
			return nil, NewDispatchError(ErrGoalRejectedByServer, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, NewDispatchError(ErrServerUnreachable, errors.New("loopback closed"))
	}

	gctx, cancel := context.WithCancel(context.Background())
	h := &loopbackHandle[F, R]{
		id:     uuid.NewString(),
		events: make(chan Event[F, R], max(l.Buffer, 1)),
		cancel: cancel,
	}
	l.active[h.id] = cancel
	l.wg.Add(1)
	go l.run(gctx, h, goal)
	return h, nil
}

func (l *Loopback[G, F, R]) run(ctx context.Context, h *loopbackHandle[F, R], goal G) {
	defer l.wg.Done()
	defer close(h.events)
	defer func() {
		l.mu.Lock()
		delete(l.active, h.id)
		l.mu.Unlock()
		h.cancel()
	}()

	publish := func(fb F) {
		select {
		case h.events <- Event[F, R]{Feedback: &fb}:
		case <-ctx.Done():
		}
	}
	res, err := l.handler(ctx, goal, publish)

	ev := Event[F, R]{Result: &WrappedResult[R]{GoalID: h.id, Code: ResultCodeFor(ctx, err), Result: res}}
	select {
	case h.events <- ev:
	case <-ctx.Done():
		// Nobody waits on a canceled goal; deliver only if there is room.
		select {
		case h.events <- ev:
		default:
		}
	}
}

// Active returns the number of goals still executing.
func (l *Loopback[G, F, R]) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Close cancels outstanding goals and waits for their handlers to return.
func (l *Loopback[G, F, R]) Close() {
	l.mu.Lock()
	l.closed = true
	for _, cancel := range l.active {
		cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}
