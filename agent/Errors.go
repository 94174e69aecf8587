package agent

import "fmt"

// DivergenceError reports that a learner's update produced a
// non-finite loss, meaning the learned weights are no longer
// trustworthy. Training with the agent should stop.
type DivergenceError struct {
	Agent string
	Loss  float64
	Step  int
}

// Error satisfies the error interface
func (d *DivergenceError) Error() string {
	return fmt.Sprintf("%v: non-finite loss %v at update %v", d.Agent,
		d.Loss, d.Step)
}

// IsDivergence returns whether or not an error reports that learning
// diverged
func IsDivergence(err error) bool {
	_, ok := err.(*DivergenceError)
	return ok
}
