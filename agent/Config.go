package agent

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/samuelfneumann/goarcade/environment"
)

// Config represents a configuration for creating an agent
type Config interface {
	// CreateAgent creates the agent that the config describes
	CreateAgent(env environment.Environment, seed uint64) (Agent, error)

	// Type returns the type of agent the Config creates
	Type() Type

	// Validate returns an error describing whether or not the
	// configuration is valid or not.
	Validate() error
}

// Type represents a specific type of an agent Config. Config's with
// this type can create Agents of the corresponding type.
type Type string

// Registered types with the package. Once a Type has been registered
// with this map, a TypedConfig with that type can be deserialized.
//
// No Type's are registered with this package upon initialization.
// Each agent package is in charge of registering its Type separately
// to avoid circular imports.
var registeredTypes map[Type]reflect.Type

func init() {
	registeredTypes = make(map[Type]reflect.Type)
}

// Register registers an agent's Type with a concrete Config type so
// that upon deserialization of a TypedConfig, Configs of type
// agentType are deserialized into the concrete config type.
func Register(agentType Type, config Config) {
	registeredTypes[agentType] = reflect.TypeOf(config)
}

// TypedConfig wraps a Config with its Type so that the concrete agent
// type survives JSON round trips.
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

	concrete, found := registeredTypes[typeName]
	if !found {
		return fmt.Errorf("unmarshaljson: no registered agent type: %v",
			typeName)
	}

	value := reflect.New(concrete.Elem()).Interface().(Config)
	if err := json.Unmarshal(m["Config"], value); err != nil {
		return err
	}

	t.Type = typeName
	t.Config = value
	return t.Config.Validate()
}
