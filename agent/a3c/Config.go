// Package a3c implements the asynchronous advantage actor-critic
// algorithm: several workers roll out their own environment copies
// and apply gradients to a shared global parameter set without
// locking between updates.
package a3c

import (
	"fmt"

	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
)

// Config implements a configuration for an A3C coordinator
type Config struct {
	PolicyLayers []int                 // Shared trunk layer sizes
	Biases       []bool                // Trunk bias flags
	Activations  []*network.Activation // Trunk activations
	InitWFn      *initwfn.InitWFn      // Weight initialization

	// StepSize is the learning rate of the shared vanilla gradient
	// descent update. Plain SGD keeps concurrent gradient
	// applications commutative, so the result of a set of updates
	// does not depend on worker interleaving.
	StepSize float64

	Workers       int // Number of concurrent workers
	RolloutLength int // Steps collected per update segment

	Gamma  float64 // Discount factor ℽ
	Lambda float64 // GAE λ; 1 gives plain return-minus-baseline

	EntropyCoef float64 // Weight of the entropy bonus
	ValueCoef   float64 // Weight of the critic loss

	// NormalizeAdvantage standardizes each segment's advantages to
	// mean 0 and standard deviation 1 before the update
	NormalizeAdvantage bool

	// TotalSteps is the global environment-step budget shared by all
	// workers; once claimed, every worker winds down cooperatively
	TotalSteps int
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
	if c.StepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive \n\thave(%v)",
			c.StepSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("validate: at least one worker required \n\t"+
			"have(%v)", c.Workers)
	}
	if c.RolloutLength < 1 {
		return fmt.Errorf("validate: rollout length must be positive \n\t"+
			"have(%v)", c.RolloutLength)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma out of range [0, 1]: %v", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda out of range [0, 1]: %v",
			c.Lambda)
	}
	if c.EntropyCoef < 0 || c.ValueCoef < 0 {
		return fmt.Errorf("validate: loss coefficients must be non-negative "+
			"\n\thave(entropy=%v, value=%v)", c.EntropyCoef, c.ValueCoef)
	}
	if c.TotalSteps < 1 {
		return fmt.Errorf("validate: total steps must be positive \n\t"+
			"have(%v)", c.TotalSteps)
	}
	return nil
}
