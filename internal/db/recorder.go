package db

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/actionnode"
)

// Recorder persists action node transitions as dispatch rows. It implements
// actionnode.Observer. Transitions are queued and written by one goroutine,
// so a tick never waits on SQLite; write errors are logged, never returned
// to the tree.
type Recorder struct {
	db      *DB
	log     *zap.Logger
	timeout time.Duration

	queue chan actionnode.Transition
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	// open is only touched by the writer goroutine.
	open map[dispatchKey]int64
}

type dispatchKey struct {
	node    string
	attempt uint64
}

// RecorderBuffer is the number of transitions queued before new ones are
// dropped.
const RecorderBuffer = 1024

func NewRecorder(d *DB, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		db:      d,
		log:     logger.Named("recorder"),
		timeout: 2 * time.Second,
		queue:   make(chan actionnode.Transition, RecorderBuffer),
		done:    make(chan struct{}),
		open:    make(map[dispatchKey]int64),
	}
	go r.run()
	return r
}

// OnTransition queues t without blocking.
func (r *Recorder) OnTransition(t actionnode.Transition) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- t:
	default:
		r.log.Warn("history queue full, dropping transition",
			zap.String("node", t.Node), zap.Uint64("attempt", t.Attempt), zap.Stringer("to", t.To))
	}
}

// Close stops accepting transitions and returns once everything queued has
// been written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for t := range r.queue {
		r.write(t)
	}
}

func (r *Recorder) write(t actionnode.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := dispatchKey{node: t.Node, attempt: t.Attempt}
	disp := Dispatch{
		Node:      t.Node,
		Action:    t.Action,
		Attempt:   t.Attempt,
		GoalID:    t.GoalID,
		State:     t.To.String(),
		Halted:    t.Halted,
		UpdatedAt: t.At,
	}
	if t.To != actionnode.StateGoalProduced {
		disp.Status = t.Status.String()
	}
	if t.To == actionnode.StateTerminated {
		disp.ResultCode = t.ResultCode.String()
	}
	if t.Failed {
		disp.ErrorCode = t.ErrorCode.String()
	}

	id, ok := r.open[key]
	if !ok {
		if t.Goal != nil {
			if body, err := json.Marshal(t.Goal); err == nil {
				disp.GoalJSON = string(body)
			}
		}
		disp.CreatedAt = t.At
		newID, err := r.db.CreateDispatch(ctx, disp)
		if err != nil {
			r.log.Warn("record dispatch", zap.String("node", t.Node), zap.Error(err))
			return
		}
		id = newID
		r.open[key] = id
	} else {
		disp.ID = id
		if err := r.db.UpdateDispatch(ctx, disp); err != nil {
			r.log.Warn("update dispatch", zap.Int64("id", id), zap.Error(err))
		}
	}
	if t.To.Terminal() {
		delete(r.open, key)
	}
}
