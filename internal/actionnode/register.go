package actionnode

import (
	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// DefaultsSource returns the bound defaults for a node instance by name.
type DefaultsSource func(nodeName string) Defaults

// Register adds typeName to f. Every instance shares client and params and
// gets its own copy of tmpl bound to the defaults for its name.
func Register[G, F, R any](f *behavior.Factory, typeName string, params Params, client action.Client[G, F, R], tmpl *Template[G, F, R], defaults DefaultsSource) error {
	return f.Register(typeName, tmpl.Ports(), func(name string, cfg behavior.NodeConfig) (behavior.Node, error) {
		var d Defaults
		if defaults != nil {
			d = defaults(name)
		}
		return New[G, F, R](name, cfg, params, client, tmpl.WithDefaults(d)), nil
	})
}
