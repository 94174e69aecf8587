package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/exploration"
	"github.com/samuelfneumann/goarcade/network"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// zeroNet returns a batch-1 Q-network whose weights are all zero, so
// that every action value is identical
func zeroNet(t *testing.T, actions int) network.NeuralNet {
	t.Helper()
	g := G.NewGraph()
	net, err := network.NewMultiHeadMLP(3, 1, actions, g, []int{4},
		[]bool{true}, G.Zeroes(), []*network.Activation{network.ReLU()})
	require.NoError(t, err)
	return net
}

func obsStep() ts.TimeStep {
	return ts.New(ts.First, 0, 1, mat.NewVecDense(3, []float64{1, 2, 3}), 0)
}

func TestEGreedyBreaksTiesByLowestIndex(t *testing.T) {
	net := zeroNet(t, 4)
	pol, err := NewEGreedy(net, exploration.ConstantConfig{Epsilon: 0}.Create(),
		12)
	require.NoError(t, err)
	defer pol.Close()

	// All action values are equal; the greedy action is index 0
	for i := 0; i < 10; i++ {
		action, err := pol.SelectAction(obsStep())
		require.NoError(t, err)
		assert.Equal(t, 0, action)
	}
}

func TestEGreedyEvalIgnoresEpsilon(t *testing.T) {
	net := zeroNet(t, 4)
	pol, err := NewEGreedy(net, exploration.ConstantConfig{Epsilon: 1}.Create(),
		12)
	require.NoError(t, err)
	defer pol.Close()

	pol.Eval()
	require.True(t, pol.IsEval())
	assert.Equal(t, 0.0, pol.Epsilon())

	for i := 0; i < 10; i++ {
		action, err := pol.SelectAction(obsStep())
		require.NoError(t, err)
		assert.Equal(t, 0, action)
	}
}

func TestEGreedyScheduleAdvancesOnlyDuringTraining(t *testing.T) {
	net := zeroNet(t, 2)
	schedule := exploration.LinearConfig{
		Max: 1.0, Min: 0.0, DecaySteps: 10,
	}.Create()

	pol, err := NewEGreedy(net, schedule, 12)
	require.NoError(t, err)
	defer pol.Close()

	pol.Eval()
	_, err = pol.SelectAction(obsStep())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, schedule.Value(), 1e-10)

	pol.Train()
	_, err = pol.SelectAction(obsStep())
	require.NoError(t, err)
	assert.InDelta(t, 0.9, schedule.Value(), 1e-10)
}

func TestNewEGreedyRejectsBatchedNetworks(t *testing.T) {
	g := G.NewGraph()
	net, err := network.NewMultiHeadMLP(3, 8, 2, g, []int{4},
		[]bool{true}, G.Zeroes(), []*network.Activation{network.ReLU()})
	require.NoError(t, err)

	_, err = NewEGreedy(net, exploration.ConstantConfig{Epsilon: 0}.Create(),
		12)
	assert.Error(t, err)
}
