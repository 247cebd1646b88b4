package actionnode

import (
	"errors"
	"fmt"

	"example.com/bt-action-bridge/internal/agent/behavior"
)

// ErrMissingInput is returned when neither a bound default nor the tree
// supplies a value for a goal field.
var ErrMissingInput = behavior.ErrMissingInput

// Optional holds a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{value: v, set: true} }

func None[T any]() Optional[T] { return Optional[T]{} }

func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

func (o Optional[T]) IsSet() bool { return o.set }

// Resolve returns override when it is set and otherwise asks lookup for key.
// Any lookup failure is reported as ErrMissingInput.
func Resolve[T any](override Optional[T], lookup func(key string) (T, error), key string) (T, error) {
	if v, ok := override.Get(); ok {
		return v, nil
	}
	var zero T
	if lookup == nil {
		return zero, fmt.Errorf("port %q: %w", key, ErrMissingInput)
	}
	v, err := lookup(key)
	if err != nil {
		if errors.Is(err, ErrMissingInput) {
			return zero, err
		}
		return zero, fmt.Errorf("port %q: %w: %v", key, ErrMissingInput, err)
	}
	return v, nil
}

// PortName joins a field name and its unit the way generated ports are named,
// e.g. PortName("speed", "mm_s") == "speed__mm_s".
func PortName(field, unit string) string {
	if unit == "" {
		return field
	}
	return field + "__" + unit
}
