// Package ppo implements proximal policy optimization with a clipped
// surrogate objective over a discrete-action actor-critic network
package ppo

import (
	"fmt"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/solver"
)

// CategoricalPPOMLP is the agent Type for PPO over an MLP with a
// softmax policy
const CategoricalPPOMLP agent.Type = "CategoricalPPO-MLP"

func init() {
	agent.Register(CategoricalPPOMLP, &Config{})
}

// Config implements a configuration for a PPO agent
type Config struct {
	PolicyLayers []int                 // Shared trunk layer sizes
	Biases       []bool                // Trunk bias flags
	Activations  []*network.Activation // Trunk activations
	InitWFn      *initwfn.InitWFn      // Weight initialization

	Solver *solver.Solver // Gradient descent method

	BufferSize    int // Trajectory length collected per update
	MinibatchSize int // Must evenly divide BufferSize
	Epochs        int // Optimization passes over each trajectory

	Gamma  float64 // Discount factor ℽ
	Lambda float64 // GAE λ; 1 gives plain return-minus-baseline

	// EpsilonClip bounds the probability ratio to
	// [1-EpsilonClip, 1+EpsilonClip] in the surrogate objective
	EpsilonClip float64

	EntropyCoef float64 // Weight of the entropy bonus
	ValueCoef   float64 // Weight of the critic loss

	// NormalizeAdvantage standardizes each trajectory's advantages to
	// mean 0 and standard deviation 1 before the update
	NormalizeAdvantage bool
}

// Type returns the type of agent the Config creates
func (c Config) Type() agent.Type {
	return CategoricalPPOMLP
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
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver given")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("validate: buffer size must be positive \n\t"+
			"have(%v)", c.BufferSize)
	}
	if c.MinibatchSize < 1 || c.BufferSize%c.MinibatchSize != 0 {
		return fmt.Errorf("validate: minibatch size must be positive and "+
			"evenly divide the buffer size \n\thave(minibatch=%v, buffer=%v)",
			c.MinibatchSize, c.BufferSize)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("validate: epochs must be positive \n\thave(%v)",
			c.Epochs)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma out of range [0, 1]: %v", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda out of range [0, 1]: %v",
			c.Lambda)
	}
	if c.EpsilonClip <= 0 || c.EpsilonClip >= 1 {
		return fmt.Errorf("validate: clip range not in (0, 1) \n\thave(%v)",
			c.EpsilonClip)
	}
	if c.EntropyCoef < 0 || c.ValueCoef < 0 {
		return fmt.Errorf("validate: loss coefficients must be non-negative "+
			"\n\thave(entropy=%v, value=%v)", c.EntropyCoef, c.ValueCoef)
	}
	return nil
}

// CreateAgent creates the PPO agent that the config describes
func (c Config) CreateAgent(env environment.Environment,
	seed uint64) (agent.Agent, error) {
	return New(env, c, seed)
}
