package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CommandSetBlackboard = "set_blackboard"
	CommandHalt          = "halt"
	CommandResume        = "resume"
)

// Command represents an operator instruction handled by an agent.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SetBlackboardData writes one blackboard entry before the next tick.
type SetBlackboardData struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func decodeSetBlackboard(raw json.RawMessage) (SetBlackboardData, error) {
	var d SetBlackboardData
	if len(raw) == 0 {
		return d, errors.New("set_blackboard requires data")
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("set_blackboard payload: %w", err)
	}
	if d.Key == "" {
		return d, errors.New("set_blackboard requires a key")
	}
	return d, nil
}
