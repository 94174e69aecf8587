package ppo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/environment/minigame"
	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/solver"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

func runVector(t *testing.T, g *G.ExprGraph, out *G.Node) []float64 {
	t.Helper()
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	return out.Value().Data().([]float64)
}

func TestMinNodeIsElementwiseMinimum(t *testing.T) {
	g := G.NewGraph()
	a := G.NewVector(g, tensor.Float64, G.WithShape(3), G.WithName("a"),
		G.WithValue(tensor.New(tensor.WithShape(3),
			tensor.WithBacking([]float64{1, 5, -2}))))
	b := G.NewVector(g, tensor.Float64, G.WithShape(3), G.WithName("b"),
		G.WithValue(tensor.New(tensor.WithShape(3),
			tensor.WithBacking([]float64{3, 2, -4}))))

	out := runVector(t, g, minNode(a, b))
	assert.InDeltaSlice(t, []float64{1, 2, -4}, out, 1e-12)
}

func TestClampNodeBoundsElements(t *testing.T) {
	g := G.NewGraph()
	a := G.NewVector(g, tensor.Float64, G.WithShape(4), G.WithName("a"),
		G.WithValue(tensor.New(tensor.WithShape(4),
			tensor.WithBacking([]float64{0.5, 0.8, 1.0, 1.5}))))

	out := runVector(t, g, clampNode(a, 0.8, 1.2))
	assert.InDeltaSlice(t, []float64{0.8, 0.8, 1.0, 1.2}, out, 1e-12)
}

func TestClippedSurrogateBoundsPerStepMagnitude(t *testing.T) {
	const epsClip = 0.2

	// For positive advantages the clip caps the term for any ratio;
	// for negative advantages the pessimistic minimum keeps the bound
	// whenever the ratio stays within the clip ceiling
	ratios := []float64{0.01, 0.5, 1.0, 1.19, 10, 0.01, 0.6, 1.0, 1.19}
	advs := []float64{2, 2, 2, 2, 2, -2, -2, -2, -2}
	n := len(ratios)

	g := G.NewGraph()
	ratio := G.NewVector(g, tensor.Float64, G.WithShape(n),
		G.WithName("ratio"), G.WithValue(tensor.New(tensor.WithShape(n),
			tensor.WithBacking(ratios))))
	adv := G.NewVector(g, tensor.Float64, G.WithShape(n),
		G.WithName("advantage"), G.WithValue(tensor.New(tensor.WithShape(n),
			tensor.WithBacking(advs))))

	surrogate := G.Must(G.HadamardProd(ratio, adv))
	clipped := G.Must(G.HadamardProd(
		clampNode(ratio, 1-epsClip, 1+epsClip), adv))

	out := runVector(t, g, minNode(surrogate, clipped))
	for i, v := range out {
		bound := math.Abs(advs[i]) * (1 + epsClip)
		assert.LessOrEqual(t, math.Abs(v), bound+1e-12,
			"ratio %v advantage %v", ratios[i], advs[i])
	}
}

func newTestPPOConfig(t *testing.T) Config {
	t.Helper()
	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)
	adam, err := solver.NewDefaultAdam(0.0003, 8)
	require.NoError(t, err)

	return Config{
		PolicyLayers:       []int{16},
		Biases:             []bool{true},
		Activations:        []*network.Activation{network.TanH()},
		InitWFn:            init,
		Solver:             adam,
		BufferSize:         32,
		MinibatchSize:      8,
		Epochs:             3,
		Gamma:              0.99,
		Lambda:             0.95,
		EpsilonClip:        0.2,
		EntropyCoef:        0.01,
		ValueCoef:          0.5,
		NormalizeAdvantage: true,
	}
}

func TestTrainingLoopConsumesFullTrajectories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}

	env, err := minigame.New(0.99, 14)
	require.NoError(t, err)

	p, err := New(env, newTestPPOConfig(t), 14)
	require.NoError(t, err)
	defer p.Close()

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, p.ObserveFirst(step))

	for i := 0; i < 100; i++ {
		action, err := p.SelectAction(step)
		require.NoError(t, err)

		step, err = env.Step(action)
		require.NoError(t, err)
		require.NoError(t, p.Observe(action, step))
		require.NoError(t, p.Step())

		if step.Last() {
			require.NoError(t, p.EndEpisode())
			step, err = env.Reset()
			require.NoError(t, err)
			require.NoError(t, p.ObserveFirst(step))
		}
	}

	// 100 steps with a 32-step buffer and 3 epochs of 4 minibatches:
	// three full trajectories were consumed
	assert.Equal(t, 3*3*4, p.updates)

	// The drained trajectory is gone for good
	assert.Less(t, p.buffer.Len(), p.bufferSize)
}

func TestStepDoesNothingUntilBufferFull(t *testing.T) {
	env, err := minigame.New(0.99, 14)
	require.NoError(t, err)

	p, err := New(env, newTestPPOConfig(t), 14)
	require.NoError(t, err)
	defer p.Close()

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, p.ObserveFirst(step))

	action, err := p.SelectAction(step)
	require.NoError(t, err)
	step, err = env.Step(action)
	require.NoError(t, err)
	require.NoError(t, p.Observe(action, step))

	require.NoError(t, p.Step())
	assert.Equal(t, 0, p.updates)
}

// specEnv provides only an environment Spec; tests drive the agent
// with hand-built timesteps
type specEnv struct{}

func (s specEnv) Spec() environment.Spec {
	return environment.Spec{ObservationLength: 2, NumActions: 2}
}

func (s specEnv) Reset() (ts.TimeStep, error) {
	return ts.New(ts.First, 0, 1, mat.NewVecDense(2, nil), 0), nil
}

func (s specEnv) Step(action int) (ts.TimeStep, error) {
	return ts.TimeStep{}, nil
}

func TestEvalModeDisablesLearning(t *testing.T) {
	env, err := minigame.New(0.99, 14)
	require.NoError(t, err)

	p, err := New(env, newTestPPOConfig(t), 14)
	require.NoError(t, err)
	defer p.Close()

	p.Eval()

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, p.ObserveFirst(step))

	// Far more steps than the 32-step buffer: nothing may be stored
	// and no update may run
	for i := 0; i < 80; i++ {
		action, err := p.SelectAction(step)
		require.NoError(t, err)
		step, err = env.Step(action)
		require.NoError(t, err)
		require.NoError(t, p.Observe(action, step))
		require.NoError(t, p.Step())

		if step.Last() {
			require.NoError(t, p.EndEpisode())
			step, err = env.Reset()
			require.NoError(t, err)
			require.NoError(t, p.ObserveFirst(step))
		}
	}

	assert.Equal(t, 0, p.updates)
	assert.Equal(t, 0, p.buffer.Len())
}

func TestAbandonedEpisodeDoesNotSpliceTrajectories(t *testing.T) {
	config := newTestPPOConfig(t)
	config.BufferSize = 4
	config.MinibatchSize = 2
	config.Gamma = 0.5
	config.Lambda = 1
	config.NormalizeAdvantage = false

	p, err := New(specEnv{}, config, 14)
	require.NoError(t, err)
	defer p.Close()

	at := func(stepType ts.StepType, reward float64, obs []float64,
		n int) ts.TimeStep {
		discount := config.Gamma
		if stepType == ts.Last {
			discount = 0
		}
		return ts.New(stepType, reward, discount, mat.NewVecDense(2, obs), n)
	}

	observe := func(cur, next ts.TimeStep) {
		action, err := p.SelectAction(cur)
		require.NoError(t, err)
		require.NoError(t, p.Observe(action, next))
	}

	// Two high-reward steps, then the episode is abandoned: the
	// driver starts a fresh episode with no final step in between
	cur := at(ts.First, 0, []float64{0, 0}, 0)
	require.NoError(t, p.ObserveFirst(cur))
	next := at(ts.Mid, 100, []float64{1, 0}, 1)
	observe(cur, next)
	cur = next
	next = at(ts.Mid, 100, []float64{2, 0}, 2)
	observe(cur, next)

	fresh := at(ts.First, 0, []float64{0, 1}, 0)
	require.NoError(t, p.ObserveFirst(fresh))
	assert.False(t, p.buffer.OpenPath())

	// A short second episode with unit rewards fills the buffer
	cur = fresh
	next = at(ts.Mid, 1, []float64{1, 1}, 1)
	observe(cur, next)
	cur = next
	next = at(ts.Last, 1, []float64{2, 2}, 2)
	observe(cur, next)

	_, _, _, _, rets, err := p.buffer.Get(false)
	require.NoError(t, err)

	// The abandoned path was bootstrapped with the critic's estimate
	// of its last observed state and chains no further
	tail, err := p.behaviour.ValueOf([]float64{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 100+0.5*100+0.25*tail, rets[0], 1e-9)
	assert.InDelta(t, 100+0.5*tail, rets[1], 1e-9)

	// The second episode's rewards-to-go are its own: ℽ = 0.5
	assert.InDelta(t, 1.5, rets[2], 1e-12)
	assert.InDelta(t, 1.0, rets[3], 1e-12)
}

func TestConfigValidation(t *testing.T) {
	config := newTestPPOConfig(t)
	require.NoError(t, config.Validate())

	broken := config
	broken.MinibatchSize = 5 // does not divide 32
	assert.Error(t, broken.Validate())

	broken = config
	broken.EpsilonClip = 0
	assert.Error(t, broken.Validate())

	broken = config
	broken.EpsilonClip = 1
	assert.Error(t, broken.Validate())

	broken = config
	broken.Epochs = 0
	assert.Error(t, broken.Validate())

	broken = config
	broken.Solver = nil
	assert.Error(t, broken.Validate())
}
