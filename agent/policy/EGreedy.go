// Package policy implements action selection policies over neural
// network function approximators
package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/exploration"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/timestep"
	"github.com/samuelfneumann/goarcade/utils/floatutils"
)

// EGreedy implements an ε-greedy policy over the action values
// predicted by a neural network. With probability ε a random action
// is selected, and with probability 1-ε the greedy action is
// selected, breaking ties by the lowest action index. The exploration
// schedule advances by one step per training-mode selection; in
// evaluation mode ε is treated as 0 and the schedule does not move.
type EGreedy struct {
	net      network.NeuralNet
	vm       G.VM
	schedule exploration.Schedule
	rng      *rand.Rand
	eval     bool
}

// NewEGreedy returns a new EGreedy policy over the action values
// predicted by net, which must predict for single observations.
func NewEGreedy(net network.NeuralNet, schedule exploration.Schedule,
	seed uint64) (*EGreedy, error) {
	if net.BatchSize() != 1 {
		return nil, fmt.Errorf("newegreedy: batch size must be 1 \n\t"+
			"have(%v)", net.BatchSize())
	}

	vm := G.NewTapeMachine(net.Graph())

	return &EGreedy{
		net:      net,
		vm:       vm,
		schedule: schedule,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// SelectAction runs the network on the argument timestep's
// observation and selects an action ε-greedily with respect to the
// predicted action values
func (e *EGreedy) SelectAction(t timestep.TimeStep) (int, error) {
	obs := t.Observation
	input := make([]float64, obs.Len())
	for i := range input {
		input[i] = obs.AtVec(i)
	}

	if err := e.net.SetInput(input); err != nil {
		return 0, fmt.Errorf("selectaction: could not set input: %v", err)
	}
	if err := e.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("selectaction: could not run policy network: %v",
			err)
	}
	e.vm.Reset()

	qValues := e.net.Output()[0].Data().([]float64)

	epsilon := 0.0
	if !e.eval {
		epsilon = e.schedule.Value()
		e.schedule.Step()
	}

	if e.rng.Float64() < epsilon {
		return e.rng.Intn(len(qValues)), nil
	}

	_, indices := floatutils.MaxSlice(qValues)
	return indices[0], nil
}

// Epsilon returns the current exploration rate
func (e *EGreedy) Epsilon() float64 {
	if e.eval {
		return 0
	}
	return e.schedule.Value()
}

// Network returns the network whose action value predictions the
// policy follows
func (e *EGreedy) Network() network.NeuralNet {
	return e.net
}

// Eval sets the policy to evaluation mode
func (e *EGreedy) Eval() { e.eval = true }

// Train sets the policy to training mode
func (e *EGreedy) Train() { e.eval = false }

// IsEval returns whether the policy is in evaluation mode
func (e *EGreedy) IsEval() bool { return e.eval }

// Close cleans up the policy's virtual machine
func (e *EGreedy) Close() error {
	return e.vm.Close()
}
