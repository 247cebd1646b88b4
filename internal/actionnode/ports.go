package actionnode

import (
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// PortServerTimeout is declared by every action node. When bound, it
// overrides Params.ServerTimeout in milliseconds.
const PortServerTimeout = "server_timeout"

// BasePorts are merged into every action node's declaration.
func BasePorts() behavior.PortsList {
	return behavior.PortsList{
		behavior.InputPort(PortServerTimeout, "uint32", "goal acceptance timeout in milliseconds"),
	}
}

// Ports gives hooks access to the node's port bindings.
type Ports struct {
	cfg behavior.NodeConfig
}

func NewPorts(cfg behavior.NodeConfig) Ports { return Ports{cfg: cfg} }

func (p Ports) Input(port string) (interface{}, error) {
	return behavior.Input(p.cfg, port)
}

func (p Ports) Uint32(port string) (uint32, error) {
	return behavior.InputUint32(p.cfg, port)
}

func (p Ports) SetOutput(port string, value interface{}) error {
	return behavior.SetOutput(p.cfg, port, value)
}

func (p Ports) Config() behavior.NodeConfig { return p.cfg }
