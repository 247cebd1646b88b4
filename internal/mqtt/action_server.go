package mqttc

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/action"
)

// ActionServer executes goals received over MQTT with an action.Handler.
type ActionServer[G, F, R any] struct {
	ps      PubSub
	topics  Topics
	handler action.Handler[G, F, R]
	log     *zap.Logger
	// Accept may reject a goal before it starts.
	Accept func(G) error

	mu      sync.Mutex
	stopped bool
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewActionServer[G, F, R any](ps PubSub, topics Topics, handler action.Handler[G, F, R], logger *zap.Logger) *ActionServer[G, F, R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionServer[G, F, R]{
		ps:      ps,
		topics:  topics,
		handler: handler,
		log:     logger.Named("mqtt.server").With(zap.String("action", topics.Action)),
		active:  make(map[string]context.CancelFunc),
	}
}

// Start subscribes to the goal and cancel topics.
func (s *ActionServer[G, F, R]) Start() error {
	if err := s.ps.Subscribe(s.topics.Goal(), s.onGoal); err != nil {
		return err
	}
	if err := s.ps.Subscribe(s.topics.Cancel(), s.onCancel); err != nil {
		return err
	}
	s.log.Info("serving", zap.String("goal_topic", s.topics.Goal()))
	return nil
}

// Stop unsubscribes, cancels running goals and waits for their handlers.
func (s *ActionServer[G, F, R]) Stop() {
	_ = s.ps.Unsubscribe(s.topics.Goal())
	_ = s.ps.Unsubscribe(s.topics.Cancel())
	s.mu.Lock()
	s.stopped = true
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// onGoal hands the message to its own goroutine: publishing from inside a
// broker callback can stall the client.
func (s *ActionServer[G, F, R]) onGoal(_ string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startGoal(payload)
	}()
}

func (s *ActionServer[G, F, R]) startGoal(payload []byte) {
	var msg goalMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.GoalID == "" {
		s.log.Warn("invalid goal message", zap.Error(err))
		return
	}
	var goal G
	if err := json.Unmarshal(msg.Goal, &goal); err != nil {
		s.reply(s.topics.Status(msg.GoalID), statusMessage{Accepted: false, Reason: "invalid goal: " + err.Error()})
		return
	}
	if s.Accept != nil {
		if err := s.Accept(goal); err != nil {
			s.log.Info("goal rejected", zap.String("goal_id", msg.GoalID), zap.Error(err))
			s.reply(s.topics.Status(msg.GoalID), statusMessage{Accepted: false, Reason: err.Error()})
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return
	}
	s.active[msg.GoalID] = cancel
	s.mu.Unlock()
	s.run(ctx, cancel, msg.GoalID, goal)
}

func (s *ActionServer[G, F, R]) run(ctx context.Context, cancel context.CancelFunc, id string, goal G) {
	defer func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		cancel()
	}()

	s.reply(s.topics.Status(id), statusMessage{Accepted: true})
	publish := func(fb F) {
		body, err := json.Marshal(fb)
		if err != nil {
			s.log.Warn("encode feedback", zap.Error(err))
			return
		}
		s.reply(s.topics.Feedback(id), feedbackMessage{Feedback: body})
	}
	res, err := s.handler(ctx, goal, publish)
	code := action.ResultCodeFor(ctx, err)
	body, mErr := json.Marshal(res)
	if mErr != nil {
		s.log.Warn("encode result", zap.Error(mErr))
		body = nil
	}
	s.log.Info("goal finished", zap.String("goal_id", id), zap.Stringer("code", code), zap.Error(err))
	s.reply(s.topics.Result(id), resultMessage{Code: code.String(), Result: body})
}

func (s *ActionServer[G, F, R]) onCancel(_ string, payload []byte) {
	var msg cancelMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Warn("invalid cancel message", zap.Error(err))
		return
	}
	s.mu.Lock()
	cancel, ok := s.active[msg.GoalID]
	s.mu.Unlock()
	if ok {
		s.log.Info("goal cancel requested", zap.String("goal_id", msg.GoalID))
		cancel()
	}
}

func (s *ActionServer[G, F, R]) reply(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("encode reply", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := s.ps.Publish(topic, payload); err != nil {
		s.log.Warn("publish", zap.String("topic", topic), zap.Error(err))
	}
}
