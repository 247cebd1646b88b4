package behavior

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownNodeType is returned for node types that were never registered.
var ErrUnknownNodeType = errors.New("unknown node type")

// Builder creates one node instance of a registered type.
type Builder func(name string, cfg NodeConfig) (Node, error)

// NodeType describes a registered type and its static port declaration.
type NodeType struct {
	Type  string    `json:"type"`
	Ports PortsList `json:"ports"`
}

// Factory maps type names to builders. Port declarations are available
// before any instance exists so tree definitions can be validated up front.
type Factory struct {
	mu    sync.RWMutex
	types map[string]registration
}

type registration struct {
	ports   PortsList
	builder Builder
}

func NewFactory() *Factory {
	return &Factory{types: make(map[string]registration)}
}

func (f *Factory) Register(typeName string, ports PortsList, builder Builder) error {
	if typeName == "" {
		return errors.New("node type name required")
	}
	if builder == nil {
		return fmt.Errorf("node type %s: builder required", typeName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.types[typeName]; exists {
		return fmt.Errorf("node type %s already registered", typeName)
	}
	f.types[typeName] = registration{ports: append(PortsList{}, ports...), builder: builder}
	return nil
}

// ProvidedPorts returns a copy of the ports declared for typeName.
func (f *Factory) ProvidedPorts(typeName string) (PortsList, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", typeName, ErrUnknownNodeType)
	}
	return append(PortsList{}, reg.ports...), nil
}

// Manifest lists every registered type, sorted by name.
func (f *Factory) Manifest() []NodeType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]NodeType, 0, len(f.types))
	for name, reg := range f.types {
		out = append(out, NodeType{Type: name, Ports: append(PortsList{}, reg.ports...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidatePorts checks that every bound port is declared by typeName.
func (f *Factory) ValidatePorts(typeName string, bound map[string]string) error {
	ports, err := f.ProvidedPorts(typeName)
	if err != nil {
		return err
	}
	for name := range bound {
		if _, ok := ports.Lookup(name); !ok {
			return fmt.Errorf("node type %s has no port %q", typeName, name)
		}
	}
	return nil
}

func (f *Factory) Instantiate(typeName, name string, cfg NodeConfig) (Node, error) {
	if err := f.ValidatePorts(typeName, cfg.Ports); err != nil {
		return nil, err
	}
	f.mu.RLock()
	reg := f.types[typeName]
	f.mu.RUnlock()
	node, err := reg.builder(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s %q: %w", typeName, name, err)
	}
	return node, nil
}
