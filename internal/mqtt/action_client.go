package mqttc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/action"
)

// ActionClient dispatches goals over MQTT and implements action.Client.
type ActionClient[G, F, R any] struct {
	ps     PubSub
	topics Topics
	log    *zap.Logger
	// AcceptTimeout bounds the wait for the server's accept/reject when the
	// caller's context has no deadline.
	AcceptTimeout time.Duration
	// Buffer is the number of feedback messages queued per goal before
	// older ones are dropped in favour of keeping the result slot free.
	Buffer int
}

func NewActionClient[G, F, R any](ps PubSub, topics Topics, logger *zap.Logger) *ActionClient[G, F, R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionClient[G, F, R]{
		ps:            ps,
		topics:        topics,
		log:           logger.Named("mqtt.action").With(zap.String("action", topics.Action)),
		AcceptTimeout: 5 * time.Second,
		Buffer:        64,
	}
}

var _ action.Client[struct{}, struct{}, struct{}] = (*ActionClient[struct{}, struct{}, struct{}])(nil)

type goalHandle[F, R any] struct {
	id       string
	cancelFn func(ctx context.Context, id string) error
	status   chan statusMessage
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	events chan action.Event[F, R]
	log    *zap.Logger
}

func (h *goalHandle[F, R]) GoalID() string                    { return h.id }
func (h *goalHandle[F, R]) Events() <-chan action.Event[F, R] { return h.events }

func (h *goalHandle[F, R]) Cancel(ctx context.Context) error {
	if !h.close() {
		return nil
	}
	return h.cancelFn(ctx, h.id)
}

// close reports whether this call closed the handle.
func (h *goalHandle[F, R]) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.finish()
	return true
}

// finish must be called with h.mu held.
func (h *goalHandle[F, R]) finish() {
	h.closed = true
	close(h.events)
	close(h.done)
}

func (h *goalHandle[F, R]) deliver(topic string, payload []byte) {
	switch Leaf(topic) {
	case "status":
		var msg statusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.Warn("invalid status", zap.Error(err))
			return
		}
		select {
		case h.status <- msg:
		default:
		}
	case "feedback":
		var msg feedbackMessage
		var fb F
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.Warn("invalid feedback", zap.Error(err))
			return
		}
		if err := json.Unmarshal(msg.Feedback, &fb); err != nil {
			h.log.Warn("invalid feedback body", zap.Error(err))
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return
		}
		if len(h.events) >= cap(h.events)-1 {
			h.log.Warn("feedback queue full, dropping", zap.String("goal_id", h.id))
			return
		}
		h.events <- action.Event[F, R]{Feedback: &fb}
	case "result":
		var msg resultMessage
		var res R
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.Warn("invalid result", zap.Error(err))
			return
		}
		if len(msg.Result) > 0 && string(msg.Result) != "null" {
			if err := json.Unmarshal(msg.Result, &res); err != nil {
				h.log.Warn("invalid result body", zap.Error(err))
			}
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return
		}
		h.events <- action.Event[F, R]{Result: &action.WrappedResult[R]{
			GoalID: h.id, Code: action.ParseResultCode(msg.Code), Result: res,
		}}
		h.finish()
	}
}

func (c *ActionClient[G, F, R]) SendGoal(ctx context.Context, goal G) (action.Handle[F, R], error) {
	if !c.ps.IsConnected() {
		return nil, action.NewDispatchError(action.ErrServerUnreachable, errors.New("broker not connected"))
	}
	body, err := json.Marshal(goal)
	if err != nil {
		return nil, action.NewDispatchError(action.ErrInvalidGoal, err)
	}
	id := uuid.NewString()
	payload, err := json.Marshal(goalMessage{GoalID: id, Goal: body})
	if err != nil {
		return nil, action.NewDispatchError(action.ErrInvalidGoal, err)
	}

	h := &goalHandle[F, R]{
		id:       id,
		cancelFn: c.cancel,
		status:   make(chan statusMessage, 1),
		done:     make(chan struct{}),
		events:   make(chan action.Event[F, R], max(c.Buffer, 1)+1),
		log:      c.log,
	}
	scope := c.topics.GoalScope(id)
	if err := c.ps.Subscribe(scope, h.deliver); err != nil {
		return nil, action.NewDispatchError(action.ErrServerUnreachable, err)
	}
	abandon := func() {
		h.close()
		if err := c.ps.Unsubscribe(scope); err != nil {
			c.log.Debug("unsubscribe", zap.String("topic", scope), zap.Error(err))
		}
	}

	if err := c.ps.Publish(c.topics.Goal(), payload); err != nil {
		abandon()
		return nil, action.NewDispatchError(action.ErrServerUnreachable, err)
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok && c.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.AcceptTimeout)
		defer cancel()
	}

	select {
	case st := <-h.status:
		if !st.Accepted {
			abandon()
			return nil, action.NewDispatchError(action.ErrGoalRejectedByServer, errors.New(st.Reason))
		}
	case <-waitCtx.Done():
		abandon()
		// The server may still pick the goal up; tell it not to.
		_ = c.cancel(context.Background(), id)
		return nil, action.NewDispatchError(action.CodeOf(waitCtx.Err()), waitCtx.Err())
	}

	c.log.Debug("goal accepted", zap.String("goal_id", id))
	// Unsubscribing from inside a message callback can stall the broker
	// client, so the subscription is dropped from its own goroutine.
	go func() {
		<-h.done
		if err := c.ps.Unsubscribe(scope); err != nil {
			c.log.Debug("unsubscribe", zap.String("topic", scope), zap.Error(err))
		}
	}()
	return h, nil
}

func (c *ActionClient[G, F, R]) cancel(_ context.Context, id string) error {
	payload, err := json.Marshal(cancelMessage{GoalID: id})
	if err != nil {
		return err
	}
	if err := c.ps.Publish(c.topics.Cancel(), payload); err != nil {
		return fmt.Errorf("publish cancel %s: %w", id, err)
	}
	return nil
}
