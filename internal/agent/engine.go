package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/actionnode"
	"example.com/bt-action-bridge/internal/actions/axis"
	"example.com/bt-action-bridge/internal/agent/behavior"
	mqttc "example.com/bt-action-bridge/internal/mqtt"
)

// AgentEngine ticks one behavior tree whose action nodes dispatch goals over
// the configured transport. Commands and heartbeats travel over MQTT when a
// broker connection is supplied.
type AgentEngine struct {
	Config     Config
	PubSub     mqttc.PubSub
	Factory    *behavior.Factory
	Blackboard *behavior.Blackboard
	Tree       behavior.Node

	log     *zap.Logger
	cmdChan chan Command
	closers []func()

	paused        bool
	lastStatus    behavior.Status
	ticks         uint64
	lastHeartbeat time.Time
	lastIP        string
}

// Heartbeat is the retained status an agent publishes on lab/status/<id>.
type Heartbeat struct {
	Status     string `json:"status"`
	TS         string `json:"ts"`
	IP         string `json:"ip,omitempty"`
	Name       string `json:"name"`
	Scenario   string `json:"scenario,omitempty"`
	TreeStatus string `json:"tree_status,omitempty"`
	Paused     bool   `json:"paused"`
	Ticks      uint64 `json:"ticks"`
}

// NewAgentEngine registers every node type, validates the configured
// scenario against them and builds the tree. ps may be nil when the
// transport is loopback; observer receives every action node transition.
func NewAgentEngine(cfg Config, ps mqttc.PubSub, observer actionnode.Observer, logger *zap.Logger) (*AgentEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &AgentEngine{
		Config:     cfg,
		PubSub:     ps,
		Blackboard: behavior.NewBlackboard(),
		log:        logger.Named("agent").With(zap.String("agent_id", cfg.AgentID)),
		cmdChan:    make(chan Command, 10),
	}

	f, err := RegisterNodes(cfg, ps, observer, logger)
	if err != nil {
		return nil, err
	}
	e.Factory = f.Factory
	e.closers = f.closers

	spec := cfg.Scenario
	if err := spec.Validate(e.Factory); err != nil {
		e.Close()
		return nil, err
	}
	spec.Seed(e.Blackboard)
	tree, err := behavior.Build(e.Factory, spec.Tree, e.Blackboard)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("build tree: %w", err)
	}
	e.Tree = tree
	return e, nil
}

// Nodes is a factory populated with the built-in and action node types.
type Nodes struct {
	Factory *behavior.Factory
	closers []func()
}

// Close releases the in-process action servers behind the factory.
func (n Nodes) Close() {
	for _, c := range n.closers {
		c()
	}
}

// RegisterNodes builds the factory used by the agent. It needs no tree and
// is what the ports manifest is read from.
func RegisterNodes(cfg Config, ps mqttc.PubSub, observer actionnode.Observer, logger *zap.Logger) (Nodes, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := Nodes{Factory: behavior.NewFactory()}
	if err := behavior.RegisterBuiltins(n.Factory); err != nil {
		return n, err
	}

	var client axis.Client
	switch cfg.Transport {
	case TransportLoopback:
		sim := axis.NewSim(cfg.SimAxes, cfg.SimLimit)
		lb := sim.Loopback()
		n.closers = append(n.closers, lb.Close)
		client = lb
	case TransportMQTT:
		if ps == nil {
			return n, errors.New("mqtt transport requires a broker connection")
		}
		topics := mqttc.Topics{Prefix: cfg.ActionPrefix, Action: axis.ActionName}
		client = mqttc.NewActionClient[axis.Goal, axis.Feedback, axis.Result](ps, topics, logger)
	default:
		return n, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	params := actionnode.Params{
		ServerTimeout: cfg.ServerTimeout,
		Logger:        logger,
		Observer:      observer,
	}
	if err := axis.Register(n.Factory, client, params, cfg.Scenario.DefaultsFor); err != nil {
		n.Close()
		return n, err
	}
	return n, nil
}

// Start subscribes to commands and ticks the tree until ctx is done, then
// halts the tree.
func (e *AgentEngine) Start(ctx context.Context) error {
	if err := e.subscribeCommands(); err != nil {
		return err
	}
	defer e.unsubscribeCommands()

	ticker := time.NewTicker(e.Config.TickInterval)
	defer ticker.Stop()

	e.log.Info("agent engine started",
		zap.String("scenario", e.Config.Scenario.Name),
		zap.String("transport", e.Config.Transport),
		zap.Duration("tick", e.Config.TickInterval))

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.Step(ctx)
		}
	}
}

// Step runs one engine cycle: pending commands, one tree tick unless
// paused, then a heartbeat when one is due.
func (e *AgentEngine) Step(ctx context.Context) {
	e.processCommands(ctx)
	if !e.paused {
		e.tick(ctx)
	}
	e.sendHeartbeat()
}

func (e *AgentEngine) tick(ctx context.Context) {
	status := e.Tree.Tick(ctx, e.Blackboard)
	e.ticks++
	if status != e.lastStatus || e.ticks == 1 {
		e.log.Debug("tree status", zap.Stringer("status", status), zap.Uint64("tick", e.ticks))
	}
	e.lastStatus = status
	if status.Done() && !e.Config.Loop {
		e.log.Info("tree finished", zap.Stringer("status", status), zap.Uint64("ticks", e.ticks))
		e.paused = true
	}
}

func (e *AgentEngine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	behavior.HaltNode(ctx, e.Tree)
	e.log.Info("agent engine stopped", zap.Uint64("ticks", e.ticks))
	e.Close()
}

// Close releases in-process action servers.
func (e *AgentEngine) Close() {
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
}

// Paused reports whether the tree is currently not being ticked.
func (e *AgentEngine) Paused() bool { return e.paused }

// Status is the last status returned by the tree.
func (e *AgentEngine) Status() behavior.Status { return e.lastStatus }

func (e *AgentEngine) commandTopics() []string {
	return []string{"lab/commands/" + e.Config.AgentID, "lab/commands/all"}
}

func (e *AgentEngine) subscribeCommands() error {
	if e.PubSub == nil {
		return nil
	}
	for _, topic := range e.commandTopics() {
		e.log.Info("subscribing", zap.String("topic", topic))
		if err := e.PubSub.Subscribe(topic, e.handleCommand); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (e *AgentEngine) unsubscribeCommands() {
	if e.PubSub == nil {
		return
	}
	for _, topic := range e.commandTopics() {
		_ = e.PubSub.Unsubscribe(topic)
	}
}

func (e *AgentEngine) handleCommand(topic string, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		e.log.Warn("invalid command JSON", zap.String("topic", topic), zap.Error(err))
		return
	}
	e.Enqueue(cmd)
}

// Enqueue hands cmd to the tick loop without blocking.
func (e *AgentEngine) Enqueue(cmd Command) bool {
	select {
	case e.cmdChan <- cmd:
		e.log.Debug("queued command", zap.String("type", cmd.Type))
		return true
	default:
		e.log.Warn("command queue full, dropping command", zap.String("type", cmd.Type))
		return false
	}
}

func (e *AgentEngine) processCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-e.cmdChan:
			if err := e.apply(ctx, cmd); err != nil {
				e.log.Warn("command failed", zap.String("type", cmd.Type), zap.Error(err))
			}
		default:
			return
		}
	}
}

func (e *AgentEngine) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandSetBlackboard:
		d, err := decodeSetBlackboard(cmd.Data)
		if err != nil {
			return err
		}
		e.Blackboard.Set(d.Key, d.Value)
		e.log.Info("blackboard set", zap.String("key", d.Key), zap.Any("value", d.Value))
	case CommandHalt:
		behavior.HaltNode(ctx, e.Tree)
		e.paused = true
		e.log.Info("tree halted")
	case CommandResume:
		if e.paused {
			e.paused = false
			e.log.Info("tree resumed")
		}
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return nil
}

func (e *AgentEngine) sendHeartbeat() {
	if time.Since(e.lastHeartbeat) < e.Config.HeartbeatInterval {
		return
	}
	if e.PubSub == nil || !e.PubSub.IsConnected() {
		return
	}
	if ip := DetectIPv4(); ip != e.lastIP {
		if e.lastIP != "" {
			e.log.Info("ip changed", zap.String("from", e.lastIP), zap.String("to", ip))
		}
		e.lastIP = ip
	}
	hb := e.heartbeat()
	payload, err := json.Marshal(hb)
	if err != nil {
		e.log.Warn("heartbeat marshal", zap.Error(err))
		return
	}
	topic := "lab/status/" + e.Config.AgentID
	publish := e.PubSub.Publish
	if r, ok := e.PubSub.(interface {
		PublishRetained(string, []byte) error
	}); ok {
		publish = r.PublishRetained
	}
	if err := publish(topic, payload); err != nil {
		e.log.Warn("heartbeat publish", zap.Error(err))
		return
	}
	e.lastHeartbeat = time.Now()
}

func (e *AgentEngine) heartbeat() Heartbeat {
	hb := Heartbeat{
		Status:   "ok",
		TS:       time.Now().Format(time.RFC3339),
		IP:       e.lastIP,
		Name:     e.Config.AgentID,
		Scenario: e.Config.Scenario.Name,
		Paused:   e.paused,
		Ticks:    e.ticks,
	}
	if e.ticks > 0 {
		hb.TreeStatus = e.lastStatus.String()
	}
	return hb
}
