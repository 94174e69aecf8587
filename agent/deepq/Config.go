// Package deepq implements the deep Q-learning algorithm with
// experience replay and a target network
package deepq

import (
	"fmt"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/exploration"
	"github.com/samuelfneumann/goarcade/expreplay"
	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/solver"
)

// EGreedyDeepQMLP is the agent Type for deep Q-learning over an MLP
// with ε-greedy exploration
const EGreedyDeepQMLP agent.Type = "EGreedyDeepQ-MLP"

func init() {
	agent.Register(EGreedyDeepQMLP, &Config{})
}

// Config implements a configuration for a DeepQ agent
type Config struct {
	PolicyLayers []int                 // Hidden layer sizes
	Biases       []bool                // Hidden layer bias flags
	Activations  []*network.Activation // Hidden layer activations
	InitWFn      *initwfn.InitWFn      // Weight initialization

	Solver      *solver.Solver            // Gradient descent method
	Exploration *exploration.TypedConfig  // ε schedule
	Replay      expreplay.Config          // Experience replay layout

	// Tau is the Polyak averaging constant for target network
	// updates. Tau = 1 sets the target network's weights to the
	// learned weights exactly.
	Tau                  float64
	TargetUpdateInterval int // Gradient steps between target syncs
	UpdateInterval       int // Collect steps between learning steps
}

// Type returns the type of agent the Config creates
func (c Config) Type() agent.Type {
	return EGreedyDeepQMLP
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Biases) ||
		len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("validate: policy layers, biases, and activations "+
			"must have equal lengths \n\thave(%v, %v, %v)",
			len(c.PolicyLayers), len(c.Biases), len(c.Activations))
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver given")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	if c.Exploration == nil {
		return fmt.Errorf("validate: no exploration schedule given")
	}
	if err := c.Exploration.Validate(); err != nil {
		return fmt.Errorf("validate: invalid exploration schedule: %v", err)
	}
	if err := c.Replay.Validate(); err != nil {
		return fmt.Errorf("validate: invalid replay buffer: %v", err)
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau not in (0, 1] \n\thave(%v)", c.Tau)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("validate: target update interval must be "+
			"positive \n\thave(%v)", c.TargetUpdateInterval)
	}
	if c.UpdateInterval < 1 {
		return fmt.Errorf("validate: update interval must be positive "+
			"\n\thave(%v)", c.UpdateInterval)
	}
	return nil
}

// CreateAgent creates the DeepQ agent that the config describes
func (c Config) CreateAgent(env environment.Environment,
	seed uint64) (agent.Agent, error) {
	return New(env, c, seed)
}
