package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/network"
)

// zeroACNet returns a batch-1 actor-critic network whose weights are
// all zero, so that all logits and state values are zero
func zeroACNet(t *testing.T, actions int) network.NeuralNet {
	t.Helper()
	g := G.NewGraph()
	net, err := network.NewActorCriticMLP(3, 1, actions, g, []int{4},
		[]bool{true}, G.Zeroes(), []*network.Activation{network.TanH()})
	require.NoError(t, err)
	return net
}

func TestSoftmaxACUniformLogitsGiveUniformLogProb(t *testing.T) {
	actions := 4
	pol, err := NewSoftmaxAC(zeroACNet(t, actions), 42)
	require.NoError(t, err)
	defer pol.Close()

	action, err := pol.SelectAction(obsStep())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, action, 0)
	assert.Less(t, action, actions)

	// log π(a|s) = -log |A| under equal logits
	assert.InDelta(t, -math.Log(float64(actions)), pol.LogProb(), 1e-10)
	assert.InDelta(t, 0.0, pol.Value(), 1e-10)
}

func TestSoftmaxACEvalIsGreedy(t *testing.T) {
	pol, err := NewSoftmaxAC(zeroACNet(t, 3), 42)
	require.NoError(t, err)
	defer pol.Close()

	pol.Eval()
	require.True(t, pol.IsEval())

	// Equal logits: greedy selection breaks ties by the lowest index
	for i := 0; i < 10; i++ {
		action, err := pol.SelectAction(obsStep())
		require.NoError(t, err)
		assert.Equal(t, 0, action)
	}
}

func TestSoftmaxACValueOfMatchesValue(t *testing.T) {
	pol, err := NewSoftmaxAC(zeroACNet(t, 2), 42)
	require.NoError(t, err)
	defer pol.Close()

	_, err = pol.SelectAction(obsStep())
	require.NoError(t, err)

	value, err := pol.ValueOf([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, pol.Value(), value, 1e-10)
}

func TestNewSoftmaxACRequiresTwoHeads(t *testing.T) {
	g := G.NewGraph()
	net, err := network.NewMultiHeadMLP(3, 1, 2, g, []int{4},
		[]bool{true}, G.Zeroes(), []*network.Activation{network.ReLU()})
	require.NoError(t, err)

	_, err = NewSoftmaxAC(net, 42)
	assert.Error(t, err)
}
