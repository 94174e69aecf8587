package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/timestep"
	"github.com/samuelfneumann/goarcade/utils/floatutils"
)

// SoftmaxAC implements a softmax policy over the logits predicted by
// a two-headed actor-critic network. In training mode actions are
// sampled from the softmax distribution; in evaluation mode the
// highest-logit action is selected, breaking ties by the lowest
// action index.
//
// The log probability and state value of the last selection are
// recorded so that learners can snapshot the behaviour distribution
// at collection time.
type SoftmaxAC struct {
	net  network.NeuralNet
	vm   G.VM
	rng  *rand.Rand
	eval bool

	lastLogProb float64
	lastValue   float64
}

// NewSoftmaxAC returns a new SoftmaxAC policy over the logits
// predicted by net, which must be a two-headed network predicting for
// single observations.
func NewSoftmaxAC(net network.NeuralNet, seed uint64) (*SoftmaxAC, error) {
	if net.BatchSize() != 1 {
		return nil, fmt.Errorf("newsoftmaxac: batch size must be 1 \n\t"+
			"have(%v)", net.BatchSize())
	}
	if len(net.Prediction()) != 2 {
		return nil, fmt.Errorf("newsoftmaxac: network must predict logits "+
			"and state values \n\thave(%v heads)", len(net.Prediction()))
	}

	vm := G.NewTapeMachine(net.Graph())

	return &SoftmaxAC{
		net: net,
		vm:  vm,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// SelectAction runs the network on the argument timestep's
// observation and selects an action from the softmax distribution
// over the predicted logits
func (s *SoftmaxAC) SelectAction(t timestep.TimeStep) (int, error) {
	obs := t.Observation
	input := make([]float64, obs.Len())
	for i := range input {
		input[i] = obs.AtVec(i)
	}

	if err := s.net.SetInput(input); err != nil {
		return 0, fmt.Errorf("selectaction: could not set input: %v", err)
	}
	if err := s.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("selectaction: could not run policy network: %v",
			err)
	}
	s.vm.Reset()

	logits := s.net.Output()[0].Data().([]float64)
	s.lastValue = network.ScalarValue(s.net.Output()[1])

	var action int
	if s.eval {
		_, indices := floatutils.MaxSlice(logits)
		action = indices[0]
	} else {
		probs := floatutils.Softmax(logits)
		u := s.rng.Float64()
		cumulative := 0.0
		action = len(probs) - 1
		for i, p := range probs {
			cumulative += p
			if u < cumulative {
				action = i
				break
			}
		}
	}

	s.lastLogProb = logits[action] - floatutils.LogSumExp(logits)

	return action, nil
}

// LogProb returns the log probability the policy assigned to its last
// selected action
func (s *SoftmaxAC) LogProb() float64 {
	return s.lastLogProb
}

// Value returns the state value the critic predicted at the last
// selection
func (s *SoftmaxAC) Value() float64 {
	return s.lastValue
}

// ValueOf runs the network on a raw observation and returns the
// critic's state value prediction. Used to bootstrap cut-off
// rollouts.
func (s *SoftmaxAC) ValueOf(obs []float64) (float64, error) {
	if err := s.net.SetInput(obs); err != nil {
		return 0, fmt.Errorf("valueof: could not set input: %v", err)
	}
	if err := s.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("valueof: could not run policy network: %v", err)
	}
	s.vm.Reset()

	return network.ScalarValue(s.net.Output()[1]), nil
}

// Network returns the network whose predictions the policy follows
func (s *SoftmaxAC) Network() network.NeuralNet {
	return s.net
}

// Eval sets the policy to evaluation mode
func (s *SoftmaxAC) Eval() { s.eval = true }

// Train sets the policy to training mode
func (s *SoftmaxAC) Train() { s.eval = false }

// IsEval returns whether the policy is in evaluation mode
func (s *SoftmaxAC) IsEval() bool { return s.eval }

// Close cleans up the policy's virtual machine
func (s *SoftmaxAC) Close() error {
	return s.vm.Close()
}
