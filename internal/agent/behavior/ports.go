package behavior

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// ErrMissingInput is returned when an input port has no value to read.
var ErrMissingInput = errors.New("missing input")

type PortDirection int

const (
	PortInput PortDirection = iota
	PortOutput
)

func (d PortDirection) String() string {
	if d == PortOutput {
		return "output"
	}
	return "input"
}

func (d PortDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *PortDirection) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "input", "":
		*d = PortInput
	case "output":
		*d = PortOutput
	default:
		return fmt.Errorf("unknown port direction %q", string(b))
	}
	return nil
}

// PortInfo declares a named, typed slot on a node.
type PortInfo struct {
	Name        string        `json:"name" yaml:"name"`
	Direction   PortDirection `json:"direction" yaml:"direction"`
	Type        string        `json:"type" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

type PortsList []PortInfo

func InputPort(name, typ, description string) PortInfo {
	return PortInfo{Name: name, Direction: PortInput, Type: typ, Description: description}
}

func OutputPort(name, typ, description string) PortInfo {
	return PortInfo{Name: name, Direction: PortOutput, Type: typ, Description: description}
}

// Merge appends ports not already present in l, keeping the first declaration
// of any repeated name.
func (l PortsList) Merge(more ...PortInfo) PortsList {
	out := make(PortsList, 0, len(l)+len(more))
	seen := make(map[string]bool, len(l)+len(more))
	for _, p := range append(append(PortsList{}, l...), more...) {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

func (l PortsList) Lookup(name string) (PortInfo, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return PortInfo{}, false
}

// NodeConfig binds a node instance to the tree's blackboard. Ports maps a port
// name either to a literal value or to a "{key}" blackboard reference.
type NodeConfig struct {
	Blackboard *Blackboard
	Ports      map[string]string
}

// blackboardKey reports the referenced key when raw has the form "{key}".
func blackboardKey(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 2 && strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		return raw[1 : len(raw)-1], true
	}
	return "", false
}

// Input reads the value of an input port. A port the tree did not bind is
// missing; the blackboard is only consulted through a "{key}" reference.
func Input(cfg NodeConfig, port string) (interface{}, error) {
	raw, ok := cfg.Ports[port]
	if !ok {
		return nil, fmt.Errorf("port %q not bound: %w", port, ErrMissingInput)
	}
	key, isRef := blackboardKey(raw)
	if !isRef {
		return raw, nil
	}
	if cfg.Blackboard == nil {
		return nil, fmt.Errorf("port %q: %w", port, ErrMissingInput)
	}
	v, ok := cfg.Blackboard.Lookup(key)
	if !ok || v == nil {
		return nil, fmt.Errorf("port %q: key %q unset: %w", port, key, ErrMissingInput)
	}
	return v, nil
}

// InputAs reads an input port and converts it with conv.
func InputAs[T any](cfg NodeConfig, port string, conv func(interface{}) (T, error)) (T, error) {
	var zero T
	v, err := Input(cfg, port)
	if err != nil {
		return zero, err
	}
	out, err := conv(v)
	if err != nil {
		return zero, fmt.Errorf("port %q: convert %v: %w", port, v, err)
	}
	return out, nil
}

func InputUint32(cfg NodeConfig, port string) (uint32, error) {
	return InputAs(cfg, port, ToUint32)
}

// ToUint32 converts v to an unsigned 32-bit integer. Unlike a plain cast it
// refuses negative, fractional and out of range values instead of wrapping.
func ToUint32(v interface{}) (uint32, error) {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an unsigned 32-bit integer", v)
	}
	return uint32(f), nil
}

// SetOutput writes value to the blackboard entry an output port points at.
func SetOutput(cfg NodeConfig, port string, value interface{}) error {
	if cfg.Blackboard == nil {
		return fmt.Errorf("port %q: no blackboard", port)
	}
	key := port
	if raw, ok := cfg.Ports[port]; ok {
		ref, isRef := blackboardKey(raw)
		if !isRef {
			return fmt.Errorf("port %q: output must reference a blackboard key, got %q", port, raw)
		}
		key = ref
	}
	cfg.Blackboard.Set(key, value)
	return nil
}
