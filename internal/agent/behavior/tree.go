package behavior

import (
	"errors"
	"fmt"
	"strings"
)

const (
	TypeSequence         = "sequence"
	TypeSelector         = "selector"
	TypeReactiveSequence = "reactive_sequence"
	TypeReactiveSelector = "reactive_selector"
	TypeParallel         = "parallel"
)

// TreeSpec is the declarative form of a tree: composites by keyword, leaves
// by factory type name.
type TreeSpec struct {
	Type     string            `yaml:"type" json:"type"`
	Name     string            `yaml:"name,omitempty" json:"name,omitempty"`
	Ports    map[string]string `yaml:"ports,omitempty" json:"ports,omitempty"`
	Children []TreeSpec        `yaml:"children,omitempty" json:"children,omitempty"`
}

func isComposite(t string) bool {
	switch strings.ToLower(t) {
	case TypeSequence, TypeSelector, TypeReactiveSequence, TypeReactiveSelector, TypeParallel:
		return true
	}
	return false
}

// Validate walks s and checks leaf types and port bindings against f
// without instantiating anything.
func (s TreeSpec) Validate(f *Factory) error {
	if strings.TrimSpace(s.Type) == "" {
		return errors.New("tree node type is required")
	}
	if isComposite(s.Type) {
		if len(s.Children) == 0 {
			return fmt.Errorf("%s %q has no children", s.Type, s.Name)
		}
		for _, c := range s.Children {
			if err := c.Validate(f); err != nil {
				return err
			}
		}
		return nil
	}
	if len(s.Children) > 0 {
		return fmt.Errorf("leaf %s %q cannot have children", s.Type, s.Name)
	}
	return f.ValidatePorts(s.Type, s.Ports)
}

// Build instantiates the tree described by spec.
func Build(f *Factory, spec TreeSpec, bb *Blackboard) (Node, error) {
	if err := spec.Validate(f); err != nil {
		return nil, err
	}
	return build(f, spec, bb)
}

func build(f *Factory, spec TreeSpec, bb *Blackboard) (Node, error) {
	if !isComposite(spec.Type) {
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		return f.Instantiate(spec.Type, name, NodeConfig{Blackboard: bb, Ports: spec.Ports})
	}
	children := make([]Node, 0, len(spec.Children))
	for _, c := range spec.Children {
		n, err := build(f, c, bb)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	switch strings.ToLower(spec.Type) {
	case TypeSequence:
		return &Sequence{Children: children}, nil
	case TypeSelector:
		return &Selector{Children: children}, nil
	case TypeReactiveSequence:
		return &ReactiveSequence{Children: children}, nil
	case TypeReactiveSelector:
		return &ReactiveSelector{Children: children}, nil
	default:
		return &Parallel{Children: children}, nil
	}
}
