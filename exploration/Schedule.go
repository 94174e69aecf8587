// Package exploration implements exploration rate schedules and
// ε-greedy action selection
package exploration

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Type describes the available schedule types
type Type string

// Available schedule types
const (
	Linear      Type = "Linear"
	Exponential Type = "Exponential"
	Constant    Type = "Constant"
)

// Schedule tracks the exploration rate ε over training. Value returns
// the current rate and Step advances the schedule by one
// action-selection, returning the new rate. Implementations are
// monotonically non-increasing between the configured bounds.
type Schedule interface {
	Value() float64
	Step() float64
}

// Config describes a Schedule so that schedules can be JSON
// serialized into configuration files.
type Config interface {
	// Create returns the Schedule the Config describes
	Create() Schedule

	// Type returns the type of Schedule that Create returns
	Type() Type

	// Validate returns an error if the configuration is out of range
	Validate() error
}

// TypedConfig wraps a Config with its Type so that the concrete
// schedule type survives JSON round trips.
type TypedConfig struct {
	Type
	Config
}

// NewTypedConfig validates c and wraps it for serialization
func NewTypedConfig(c Config) (*TypedConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &TypedConfig{Type: c.Type(), Config: c}, nil
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (t *TypedConfig) UnmarshalJSON(data []byte) error {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	var typeName Type
	if err := json.Unmarshal(m["Type"], &typeName); err != nil {
		return err
	}

	concreteTypes := map[Type]reflect.Type{
		Linear:      reflect.TypeOf(LinearConfig{}),
		Exponential: reflect.TypeOf(ExponentialConfig{}),
		Constant:    reflect.TypeOf(ConstantConfig{}),
	}
	concrete, ok := concreteTypes[typeName]
	if !ok {
		return fmt.Errorf("unmarshaljson: no such schedule type: %v", typeName)
	}

	value := reflect.New(concrete).Interface().(Config)
	if err := json.Unmarshal(m["Config"], value); err != nil {
		return err
	}

	t.Type = typeName
	t.Config = reflect.ValueOf(value).Elem().Interface().(Config)
	return t.Config.Validate()
}

// LinearConfig describes a schedule that anneals ε from Max to Min in
// equal decrements over DecaySteps action-selections, then stays at
// Min.
type LinearConfig struct {
	Max        float64
	Min        float64
	DecaySteps int
}

// Type returns the type of Schedule the config describes
func (l LinearConfig) Type() Type { return Linear }

// Validate returns an error if the configuration is out of range
func (l LinearConfig) Validate() error {
	return validateBounds(l.Min, l.Max, l.DecaySteps)
}

// Create returns the Schedule the config describes
func (l LinearConfig) Create() Schedule {
	return &linear{
		value:     l.Max,
		min:       l.Min,
		decrement: (l.Max - l.Min) / float64(l.DecaySteps),
	}
}

// ExponentialConfig describes a schedule that decays ε from Max
// toward Min by a multiplicative Rate per action-selection. Rate must
// be in (0, 1]. Linear and exponential decay are interchangeable
// policy parameters; both respect the same bounds.
type ExponentialConfig struct {
	Max  float64
	Min  float64
	Rate float64
}

// Type returns the type of Schedule the config describes
func (e ExponentialConfig) Type() Type { return Exponential }

// Validate returns an error if the configuration is out of range
func (e ExponentialConfig) Validate() error {
	if e.Rate <= 0 || e.Rate > 1 {
		return fmt.Errorf("validate: decay rate not in (0, 1] \n\thave(%v)",
			e.Rate)
	}
	return validateBounds(e.Min, e.Max, 1)
}

// Create returns the Schedule the config describes
func (e ExponentialConfig) Create() Schedule {
	return &exponential{value: e.Max, min: e.Min, rate: e.Rate}
}

// ConstantConfig describes a schedule that keeps ε fixed at Epsilon
type ConstantConfig struct {
	Epsilon float64
}

// Type returns the type of Schedule the config describes
func (c ConstantConfig) Type() Type { return Constant }

// Validate returns an error if the configuration is out of range
func (c ConstantConfig) Validate() error {
	return validateBounds(c.Epsilon, c.Epsilon, 1)
}

// Create returns the Schedule the config describes
func (c ConstantConfig) Create() Schedule {
	return &constant{value: c.Epsilon}
}

// validateBounds fails fast on ε bounds outside [0, 1] or a
// non-positive decay horizon
func validateBounds(min, max float64, steps int) error {
	if min < 0 || max > 1 || min > max {
		return fmt.Errorf("validate: need 0 <= min <= max <= 1 \n\thave"+
			"(min=%v, max=%v)", min, max)
	}
	if steps < 1 {
		return fmt.Errorf("validate: decay steps must be positive \n\t"+
			"have(%v)", steps)
	}
	return nil
}

type linear struct {
	value     float64
	min       float64
	decrement float64
}

func (l *linear) Value() float64 { return l.value }

func (l *linear) Step() float64 {
	l.value -= l.decrement
	if l.value < l.min {
		l.value = l.min
	}
	return l.value
}

type exponential struct {
	value float64
	min   float64
	rate  float64
}

func (e *exponential) Value() float64 { return e.value }

func (e *exponential) Step() float64 {
	e.value *= e.rate
	if e.value < e.min {
		e.value = e.min
	}
	return e.value
}

type constant struct {
	value float64
}

func (c *constant) Value() float64 { return c.value }
func (c *constant) Step() float64  { return c.value }
