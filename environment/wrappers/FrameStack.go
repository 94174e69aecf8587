// Package wrappers provides wrappers for environments
package wrappers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/frames"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// FrameStack wraps an environment so that observations are the depth
// most recent frames stacked into a single flattened vector. Single
// frames of a reactive game rarely identify velocities; stacking
// restores enough history for a feedforward network to act on.
//
// On Reset the window is filled by repeating the episode's first
// frame, so observations have the same length on every step.
//
// FrameStack itself implements the environment.Environment interface
// and is therefore itself an Environment.
type FrameStack struct {
	environment.Environment
	stacker *frames.Stacker
}

// NewFrameStack wraps env so that its observations become stacks of
// the depth most recent frames
func NewFrameStack(env environment.Environment, depth int) (*FrameStack,
	error) {
	stacker, err := frames.NewStacker(depth, env.Spec().ObservationLength)
	if err != nil {
		return nil, fmt.Errorf("newframestack: %v", err)
	}

	return &FrameStack{
		Environment: env,
		stacker:     stacker,
	}, nil
}

// Spec returns the observation and action layout of the wrapped
// environment, with the observation length scaled by the stack depth
func (f *FrameStack) Spec() environment.Spec {
	spec := f.Environment.Spec()
	spec.ObservationLength = f.stacker.StateLen()
	return spec
}

// Reset begins a new episode, refilling the frame window with the
// episode's first frame
func (f *FrameStack) Reset() (ts.TimeStep, error) {
	step, err := f.Environment.Reset()
	if err != nil {
		return ts.TimeStep{}, err
	}

	state, err := f.stacker.Reset(rawFrame(step))
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %v", err)
	}

	step.Observation = mat.NewVecDense(len(state), state)
	return step, nil
}

// Step advances the wrapped environment by one frame and slides the
// frame window forward
func (f *FrameStack) Step(action int) (ts.TimeStep, error) {
	step, err := f.Environment.Step(action)
	if err != nil {
		return ts.TimeStep{}, err
	}

	state, err := f.stacker.Push(rawFrame(step))
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("step: %v", err)
	}

	step.Observation = mat.NewVecDense(len(state), state)
	return step, nil
}

// rawFrame copies a timestep's observation into a flat slice
func rawFrame(step ts.TimeStep) []float64 {
	frame := make([]float64, step.Observation.Len())
	for i := range frame {
		frame[i] = step.Observation.AtVec(i)
	}
	return frame
}
