package actionnode

import (
	"fmt"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/action"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

// InputField maps one input port onto one goal field. Assign converts the
// raw port (or default) value to the field's type and stores it.
type InputField[G any] struct {
	Port        string
	Type        string
	Description string
	// Defaultable fields accept a value bound at construction time that
	// takes precedence over the port.
	Defaultable bool
	Assign      func(goal *G, v interface{}) error
}

// Field builds an InputField of port type typ whose value goes through conv
// before set stores it.
func Field[G, V any](port, typ string, conv func(interface{}) (V, error), set func(goal *G, v V)) InputField[G] {
	return InputField[G]{
		Port: port,
		Type: typ,
		Assign: func(goal *G, raw interface{}) error {
			v, err := conv(raw)
			if err != nil {
				return err
			}
			set(goal, v)
			return nil
		},
	}
}

func Uint32Field[G any](port string, set func(goal *G, v uint32)) InputField[G] {
	return Field[G, uint32](port, "uint32", behavior.ToUint32, set)
}

func Int64Field[G any](port string, set func(goal *G, v int64)) InputField[G] {
	return Field[G, int64](port, "int64", cast.ToInt64E, set)
}

func Float64Field[G any](port string, set func(goal *G, v float64)) InputField[G] {
	return Field[G, float64](port, "float64", cast.ToFloat64E, set)
}

func StringField[G any](port string, set func(goal *G, v string)) InputField[G] {
	return Field[G, string](port, "string", cast.ToStringE, set)
}

func BoolField[G any](port string, set func(goal *G, v bool)) InputField[G] {
	return Field[G, bool](port, "bool", cast.ToBoolE, set)
}

// WithDefault marks f as accepting a bound default.
func (f InputField[G]) WithDefault() InputField[G] {
	f.Defaultable = true
	return f
}

func (f InputField[G]) Describe(description string) InputField[G] {
	f.Description = description
	return f
}

// OutputField publishes one result field to an output port.
type OutputField[R any] struct {
	Port        string
	Type        string
	Description string
	Get         func(res R) interface{}
}

// Defaults holds construction-time overrides keyed by port name. Values are
// converted by the field they bind, like port values.
type Defaults map[string]Optional[any]

// Template is a declarative Hooks implementation: goal fields come from
// ports (or bound defaults), result fields go to ports, and statuses follow
// StatusMapping. Goal fields without an entry in Inputs are left at their
// zero value and get no port.
type Template[G, F, R any] struct {
	StatusMapping[F, R]

	Inputs  []InputField[G]
	Outputs []OutputField[R]
	// Defaults is read-only once the template is handed to a node.
	Defaults Defaults
	Logger   *zap.Logger
}

func portType(typ string) string {
	if typ == "" {
		return "any"
	}
	return typ
}

// Ports is the static declaration for every node built from t. It does not
// depend on bound defaults.
func (t *Template[G, F, R]) Ports() behavior.PortsList {
	ports := make(behavior.PortsList, 0, len(t.Inputs)+len(t.Outputs))
	for _, in := range t.Inputs {
		ports = append(ports, behavior.InputPort(in.Port, portType(in.Type), in.Description))
	}
	for _, out := range t.Outputs {
		ports = append(ports, behavior.OutputPort(out.Port, portType(out.Type), out.Description))
	}
	return BasePorts().Merge(ports...)
}

// WithDefaults returns a copy of t bound to the given defaults. Entries for
// ports that are not defaultable are ignored.
func (t *Template[G, F, R]) WithDefaults(d Defaults) *Template[G, F, R] {
	bound := make(Defaults, len(d))
	for _, in := range t.Inputs {
		if v, ok := d[in.Port]; ok && in.Defaultable && v.IsSet() {
			bound[in.Port] = v
		}
	}
	cp := *t
	cp.Defaults = bound
	return &cp
}

func (t *Template[G, F, R]) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// SetGoal fills a scratch copy of goal and only commits it when every field
// resolved and converted; a missing or malformed input refuses the dispatch.
func (t *Template[G, F, R]) SetGoal(p Ports, goal *G) bool {
	next := *goal
	for _, in := range t.Inputs {
		override := None[any]()
		if in.Defaultable {
			override = t.Defaults[in.Port]
		}
		raw, err := Resolve(override, p.Input, in.Port)
		if err == nil {
			err = t.assign(in, &next, raw)
		}
		if err != nil {
			t.logger().Warn("goal input unresolved", zap.String("port", in.Port), zap.Error(err))
			return false
		}
	}
	*goal = next
	return true
}

func (t *Template[G, F, R]) assign(in InputField[G], goal *G, raw interface{}) error {
	if in.Assign == nil {
		return fmt.Errorf("port %q has no goal field", in.Port)
	}
	if err := in.Assign(goal, raw); err != nil {
		return fmt.Errorf("port %q: convert %v to %s: %w", in.Port, raw, portType(in.Type), err)
	}
	return nil
}

// OnResultReceived writes output ports whatever the code, then maps the code.
func (t *Template[G, F, R]) OnResultReceived(p Ports, res action.WrappedResult[R]) behavior.Status {
	for _, out := range t.Outputs {
		if err := p.SetOutput(out.Port, out.Get(res.Result)); err != nil {
			t.logger().Warn("set output", zap.String("port", out.Port), zap.Error(err))
		}
	}
	return t.StatusMapping.OnResultReceived(p, res)
}
