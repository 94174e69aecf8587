package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
)

func newMLP(t *testing.T, batch int, init G.InitWFn) NeuralNet {
	t.Helper()
	g := G.NewGraph()
	net, err := NewMultiHeadMLP(2, batch, 3, g, []int{4}, []bool{true},
		init, []*Activation{ReLU()})
	require.NoError(t, err)
	return net
}

func weightsOf(net NeuralNet) [][]float64 {
	weights := make([][]float64, 0, len(net.Learnables()))
	for _, learnable := range net.Learnables() {
		data := learnable.Value().Data().([]float64)
		weights = append(weights, append([]float64{}, data...))
	}
	return weights
}

func TestMultiHeadMLPLayout(t *testing.T) {
	net := newMLP(t, 1, G.Ones())
	assert.Equal(t, 2, net.Features())
	assert.Equal(t, 3, net.Outputs())
	assert.Equal(t, 1, net.BatchSize())

	// One hidden layer plus the output layer, each with weights and
	// bias
	assert.Len(t, net.Learnables(), 4)
}

func TestSetCopiesWeights(t *testing.T) {
	dest := newMLP(t, 1, G.Zeroes())
	source := newMLP(t, 1, G.Ones())

	require.NoError(t, dest.Set(source))

	sourceWeights := weightsOf(source)
	for i, w := range weightsOf(dest) {
		assert.Equal(t, sourceWeights[i], w)
	}
}

func TestSetIsACopyNotAnAlias(t *testing.T) {
	dest := newMLP(t, 1, G.Zeroes())
	source := newMLP(t, 1, G.Ones())

	require.NoError(t, dest.Set(source))

	// Mutating the source afterwards must not change dest
	sourceData := source.Learnables()[0].Value().Data().([]float64)
	sourceData[0] = 99

	destData := dest.Learnables()[0].Value().Data().([]float64)
	assert.Equal(t, 1.0, destData[0])
}

func TestPolyakInterpolatesWeights(t *testing.T) {
	dest := newMLP(t, 1, G.Zeroes())
	source := newMLP(t, 1, G.Ones())

	// θ_dest <- τ θ_source + (1-τ) θ_dest with τ = 0.25; dest starts
	// at zero so the result is τ θ_source
	require.NoError(t, dest.Polyak(source, 0.25))

	sourceWeights := weightsOf(source)
	for i, w := range weightsOf(dest) {
		for j, v := range w {
			assert.InDelta(t, 0.25*sourceWeights[i][j], v, 1e-12)
		}
	}
}

func TestCloneWithBatchPreservesWeights(t *testing.T) {
	net := newMLP(t, 1, G.Ones())

	clone, err := net.CloneWithBatch(16)
	require.NoError(t, err)
	assert.Equal(t, 16, clone.BatchSize())
	assert.Equal(t, net.Features(), clone.Features())
	assert.Equal(t, net.Outputs(), clone.Outputs())

	original := weightsOf(net)
	for i, w := range weightsOf(clone) {
		assert.Equal(t, original[i], w)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	net := newMLP(t, 1, G.Ones())

	clone, err := net.Clone()
	require.NoError(t, err)

	cloneData := clone.Learnables()[0].Value().Data().([]float64)
	cloneData[0] = 42

	netData := net.Learnables()[0].Value().Data().([]float64)
	assert.Equal(t, 1.0, netData[0])
}

func TestForwardPassComputesAffineOutput(t *testing.T) {
	net := newMLP(t, 1, G.Ones())

	require.NoError(t, net.SetInput([]float64{1, 1}))
	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	// Biases start at zero, so hidden: relu(1·1 + 1·1) = 2 four
	// times; output: 2·4 = 8 per head
	out := net.Output()[0].Data().([]float64)
	require.Len(t, out, 3)
	for _, v := range out {
		assert.InDelta(t, 8.0, v, 1e-12)
	}
}
