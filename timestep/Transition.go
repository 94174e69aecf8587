package timestep

import "gonum.org/v1/gonum/mat"

// Transition packages together a single environmental transition
// (s, a, r, s', done) for value-based learning. The Discount field is
// the effective discount for bootstrapping past the next state: it is
// 0 whenever the transition ended the episode, so that the Bellman
// target reduces to the immediate reward exactly on terminal
// transitions.
type Transition struct {
	State     mat.Vector
	Action    int
	Reward    float64
	Discount  float64
	NextState mat.Vector
	Done      bool
}

// NewTransition packages the previous timestep, the action taken at
// it, and the timestep that resulted into a Transition. The resulting
// Transition's Discount is taken from the next step, which is 0 for
// terminal steps.
func NewTransition(step TimeStep, action int, nextStep TimeStep) Transition {
	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    nextStep.Reward,
		Discount:  nextStep.Discount,
		NextState: nextStep.Observation,
		Done:      nextStep.Last(),
	}
}
