package deepq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/exploration"
	"github.com/samuelfneumann/goarcade/expreplay"
	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/solver"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// constEnv is a single-state, single-action environment paying reward
// 1 on every step. With episodic = true every step ends the episode,
// so the optimal action value is exactly 1. Otherwise episodes never
// end and the optimal action value is 1/(1-ℽ).
type constEnv struct {
	discount float64
	episodic bool
	n        int
}

func (c *constEnv) Spec() environment.Spec {
	return environment.Spec{ObservationLength: 1, NumActions: 1}
}

func (c *constEnv) obs() mat.Vector {
	return mat.NewVecDense(1, []float64{1})
}

func (c *constEnv) Reset() (ts.TimeStep, error) {
	c.n = 0
	return ts.New(ts.First, 0, c.discount, c.obs(), 0), nil
}

func (c *constEnv) Step(action int) (ts.TimeStep, error) {
	c.n++
	if c.episodic {
		return ts.New(ts.Last, 1, 0, c.obs(), c.n), nil
	}
	return ts.New(ts.Mid, 1, c.discount, c.obs(), c.n), nil
}

func newTestConfig(t *testing.T) Config {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)
	adam, err := solver.NewDefaultAdam(0.01, 8)
	require.NoError(t, err)
	epsilon, err := exploration.NewTypedConfig(
		exploration.ConstantConfig{Epsilon: 0.1})
	require.NoError(t, err)

	return Config{
		PolicyLayers: []int{16},
		Biases:       []bool{true},
		Activations:  []*network.Activation{network.TanH()},
		InitWFn:      init,
		Solver:       adam,
		Exploration:  epsilon,
		Replay: expreplay.Config{
			Capacity:    1000,
			MinCapacity: 8,
			BatchSize:   8,
			Seed:        14,
		},
		Tau:                  1.0,
		TargetUpdateInterval: 50,
		UpdateInterval:       1,
	}
}

// train runs the agent-environment loop for steps environmental steps
func train(t *testing.T, env environment.Environment, d *DeepQ, steps int) {
	t.Helper()

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, d.ObserveFirst(step))

	for i := 0; i < steps; i++ {
		action, err := d.SelectAction(step)
		require.NoError(t, err)

		step, err = env.Step(action)
		require.NoError(t, err)
		require.NoError(t, d.Observe(action, step))
		require.NoError(t, d.Step())

		if step.Last() {
			require.NoError(t, d.EndEpisode())
			step, err = env.Reset()
			require.NoError(t, err)
			require.NoError(t, d.ObserveFirst(step))
		}
	}
}

// learnedValue reads the agent's current action value estimate for the
// environment's only state
func learnedValue(t *testing.T, d *DeepQ) float64 {
	t.Helper()

	net, err := d.TrainNet().CloneWithBatch(1)
	require.NoError(t, err)
	require.NoError(t, net.SetInput([]float64{1}))

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	return net.Output()[0].Data().([]float64)[0]
}

func TestTerminalTargetIsRewardExactly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping convergence test in short mode")
	}

	// Every transition is terminal, so the Bellman target is always
	// the reward and the action value must converge to 1
	env := &constEnv{discount: 0.9, episodic: true}
	d, err := New(env, newTestConfig(t), 14)
	require.NoError(t, err)
	defer d.Close()

	train(t, env, d, 2000)
	assert.InDelta(t, 1.0, learnedValue(t, d), 0.1)
}

func TestContinuingValueConvergesToDiscountedSum(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping convergence test in short mode")
	}

	// Reward 1 forever with ℽ = 0.5: the action value must converge
	// to 1/(1-ℽ) = 2
	env := &constEnv{discount: 0.5}
	d, err := New(env, newTestConfig(t), 14)
	require.NoError(t, err)
	defer d.Close()

	train(t, env, d, 3000)
	assert.InDelta(t, 2.0, learnedValue(t, d), 0.2)
}

func TestStepSkipsUpdateUntilMinCapacity(t *testing.T) {
	env := &constEnv{discount: 0.9}
	d, err := New(env, newTestConfig(t), 14)
	require.NoError(t, err)
	defer d.Close()

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, d.ObserveFirst(step))

	// Fewer transitions than the replay buffer's minimum: updates
	// are silently skipped
	for i := 0; i < 3; i++ {
		action, err := d.SelectAction(step)
		require.NoError(t, err)
		step, err = env.Step(action)
		require.NoError(t, err)
		require.NoError(t, d.Observe(action, step))
		assert.NoError(t, d.Step())
	}
}

func TestEvalModeDisablesLearning(t *testing.T) {
	env := &constEnv{discount: 0.9}
	d, err := New(env, newTestConfig(t), 14)
	require.NoError(t, err)
	defer d.Close()

	// Learn for a while so the replay buffer is well past its minimum
	train(t, env, d, 20)
	require.Greater(t, d.gradientSteps, 0)

	d.Eval()
	before := learnedValue(t, d)
	gradientSteps := d.gradientSteps

	step, err := env.Reset()
	require.NoError(t, err)
	require.NoError(t, d.ObserveFirst(step))
	for i := 0; i < 25; i++ {
		action, err := d.SelectAction(step)
		require.NoError(t, err)
		step, err = env.Step(action)
		require.NoError(t, err)
		require.NoError(t, d.Observe(action, step))
		require.NoError(t, d.Step())
	}

	// Evaluation must leave the learned weights untouched
	assert.Equal(t, before, learnedValue(t, d))
	assert.Equal(t, gradientSteps, d.gradientSteps)
}

func TestUpdateIntervalSkipsCollectSteps(t *testing.T) {
	config := newTestConfig(t)
	config.UpdateInterval = 4

	env := &constEnv{discount: 0.9}
	d, err := New(env, config, 14)
	require.NoError(t, err)
	defer d.Close()

	train(t, env, d, 40)

	// Learning runs on every fourth collect step once the replay
	// buffer holds its minimum of 8 transitions: collect steps 8, 12,
	// ..., 40
	assert.Equal(t, 9, d.gradientSteps)
}

func TestObserveFirstRejectsNonFirstStep(t *testing.T) {
	env := &constEnv{discount: 0.9}
	d, err := New(env, newTestConfig(t), 14)
	require.NoError(t, err)
	defer d.Close()

	bad := ts.New(ts.Mid, 0, 0.9, mat.NewVecDense(1, []float64{1}), 3)
	assert.Error(t, d.ObserveFirst(bad))
}

func TestConfigValidation(t *testing.T) {
	config := newTestConfig(t)
	require.NoError(t, config.Validate())

	broken := config
	broken.Biases = []bool{true, true}
	assert.Error(t, broken.Validate())

	broken = config
	broken.Tau = 0
	assert.Error(t, broken.Validate())

	broken = config
	broken.TargetUpdateInterval = 0
	assert.Error(t, broken.Validate())

	broken = config
	broken.UpdateInterval = 0
	assert.Error(t, broken.Validate())

	broken = config
	broken.Solver = nil
	assert.Error(t, broken.Validate())
}
