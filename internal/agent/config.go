package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/bt-action-bridge/internal/scenario"
)

const (
	TransportMQTT     = "mqtt"
	TransportLoopback = "loopback"

	DefaultConfigPath = "/etc/bt-agent/config.yaml"
)

// Config represents the agent's runtime configuration.
type Config struct {
	AgentID    string `yaml:"agent_id"`
	MQTTBroker string `yaml:"mqtt_broker"`
	// Transport selects how action goals are dispatched: "mqtt" talks to
	// remote action servers, "loopback" runs the simulated axes in process.
	Transport    string `yaml:"transport"`
	ActionPrefix string `yaml:"action_prefix"`

	TickInterval      time.Duration `yaml:"tick_interval"`
	ServerTimeout     time.Duration `yaml:"server_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// Loop restarts the tree after it completes instead of idling until a
	// resume command.
	Loop bool `yaml:"loop"`

	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	SimAxes  uint32 `yaml:"sim_axes"`
	SimLimit uint32 `yaml:"sim_limit"`

	ScenarioPath string        `yaml:"scenario_path"`
	Scenario     scenario.Spec `yaml:"scenario"`
}

// ConfigPath returns AGENT_CONFIG_PATH or the default location.
func ConfigPath() string {
	if p := os.Getenv("AGENT_CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig reads and parses a YAML config file, loading the scenario from
// scenario_path when set.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ScenarioPath != "" {
		spec, err := scenario.Load(cfg.ScenarioPath)
		if err != nil {
			return cfg, err
		}
		cfg.Scenario = spec
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportMQTT
	}
	if c.ActionPrefix == "" {
		c.ActionPrefix = "lab/actions"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.ServerTimeout <= 0 {
		c.ServerTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.DBPath == "" {
		c.DBPath = "agent.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SimAxes == 0 {
		c.SimAxes = 4
	}
}

// Validate ensures required fields are populated.
func (c Config) Validate() error {
	if c.AgentID == "" {
		return errors.New("config missing agent_id")
	}
	switch c.Transport {
	case TransportMQTT, TransportLoopback:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Scenario.Tree.Type == "" {
		return errors.New("config has no scenario tree")
	}
	return nil
}
