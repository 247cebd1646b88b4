package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/bt-action-bridge/internal/actionnode"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// Spec describes a tree to run, stored as YAML: the tree itself, values
// seeded into the blackboard before the first tick, and bound defaults
// keyed by node name then port.
type Spec struct {
	Name        string                            `yaml:"name" json:"name"`
	Description string                            `yaml:"description,omitempty" json:"description,omitempty"`
	Blackboard  map[string]interface{}            `yaml:"blackboard,omitempty" json:"blackboard,omitempty"`
	Defaults    map[string]map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Tree        behavior.TreeSpec                 `yaml:"tree" json:"tree"`
}

// Parse converts scenario YAML into a Spec. Only the shape is checked here;
// use Validate once the node types are registered.
func Parse(raw string) (Spec, error) {
	var spec Spec
	if strings.TrimSpace(raw) == "" {
		return spec, errors.New("scenario config is empty")
	}
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		return spec, fmt.Errorf("parse scenario config: %w", err)
	}
	if strings.TrimSpace(spec.Tree.Type) == "" {
		return Spec{}, errors.New("scenario tree is required")
	}
	return spec, nil
}

func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return Parse(string(data))
}

// Validate checks the tree against f and that every bound default names a
// node of the tree.
func (s Spec) Validate(f *behavior.Factory) error {
	if err := s.Tree.Validate(f); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	names := make(map[string]bool)
	collectNames(s.Tree, names)
	var unknown []string
	for node := range s.Defaults {
		if !names[node] {
			unknown = append(unknown, node)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("scenario %q: defaults for unknown nodes %v", s.Name, unknown)
	}
	return nil
}

func collectNames(t behavior.TreeSpec, into map[string]bool) {
	name := t.Name
	if name == "" {
		name = t.Type
	}
	into[name] = true
	for _, c := range t.Children {
		collectNames(c, into)
	}
}

// DefaultsFor is an actionnode.DefaultsSource over s.Defaults. Values keep
// their YAML type; the field they bind converts them.
func (s Spec) DefaultsFor(node string) actionnode.Defaults {
	ports, ok := s.Defaults[node]
	if !ok {
		return nil
	}
	out := make(actionnode.Defaults, len(ports))
	for port, v := range ports {
		out[port] = actionnode.Some[any](v)
	}
	return out
}

// Seed writes the blackboard values of s into bb.
func (s Spec) Seed(bb *behavior.Blackboard) {
	for k, v := range s.Blackboard {
		bb.Set(k, v)
	}
}
