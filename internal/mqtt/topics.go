package mqttc

import (
	"encoding/json"
	"strings"
)

// Topics lays out the action protocol for one action under a prefix:
//
//	<prefix>/<action>/goal
//	<prefix>/<action>/cancel
//	<prefix>/<action>/<goal_id>/status|feedback|result
type Topics struct {
	Prefix string
	Action string
}

func (t Topics) base() string {
	return strings.Trim(t.Prefix, "/") + "/" + strings.Trim(t.Action, "/")
}

func (t Topics) Goal() string   { return t.base() + "/goal" }
func (t Topics) Cancel() string { return t.base() + "/cancel" }

func (t Topics) GoalScope(goalID string) string { return t.base() + "/" + goalID + "/#" }

func (t Topics) Status(goalID string) string   { return t.base() + "/" + goalID + "/status" }
func (t Topics) Feedback(goalID string) string { return t.base() + "/" + goalID + "/feedback" }
func (t Topics) Result(goalID string) string   { return t.base() + "/" + goalID + "/result" }

// Leaf returns the last segment of a goal-scoped topic.
func Leaf(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

type goalMessage struct {
	GoalID string          `json:"goal_id"`
	Goal   json.RawMessage `json:"goal"`
}

type cancelMessage struct {
	GoalID string `json:"goal_id"`
}

type statusMessage struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type feedbackMessage struct {
	Feedback json.RawMessage `json:"feedback"`
}

type resultMessage struct {
	Code   string          `json:"code"`
	Result json.RawMessage `json:"result"`
}
