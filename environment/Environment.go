// Package environment outlines the interface through which agents
// interact with a game
package environment

import (
	"github.com/samuelfneumann/goarcade/timestep"
)

// Spec describes the layout of the observations and actions of an
// Environment. Observations are flattened, fixed-length vectors of one
// rendered frame (or equivalent sensor reading). Actions form a small
// discrete set enumerated from 0.
type Spec struct {
	// ObservationLength is the length of the flattened observation
	// vector produced on every step
	ObservationLength int

	// NumActions is the number of discrete actions
	NumActions int
}

// Environment implements a simulated game. Environments start ready
// to use: a call to Reset() begins a new episode and returns its first
// TimeStep, and Step() advances the episode by one frame.
//
// Step returns a TimeStep holding the next observation, the reward
// for the transition, and a discount which is 0 on terminal steps.
// Errors returned from Reset or Step are environment faults; they are
// never swallowed by the learning code, which abandons the episode
// and resumes from a fresh Reset().
type Environment interface {
	Reset() (timestep.TimeStep, error)
	Step(action int) (timestep.TimeStep, error)
	Spec() Spec
}
