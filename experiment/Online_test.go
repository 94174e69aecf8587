package experiment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/experiment/tracker"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// scriptedEnv runs fixed-length episodes and can inject a fault on a
// chosen step
type scriptedEnv struct {
	episodeLength int
	faultOnStep   int // Global step to fault on; 0 disables
	n             int
	globalSteps   int
	resets        int
}

func (s *scriptedEnv) Spec() environment.Spec {
	return environment.Spec{ObservationLength: 1, NumActions: 2}
}

func (s *scriptedEnv) obs() mat.Vector {
	return mat.NewVecDense(1, []float64{float64(s.n)})
}

func (s *scriptedEnv) Reset() (ts.TimeStep, error) {
	s.n = 0
	s.resets++
	return ts.New(ts.First, 0, 1, s.obs(), 0), nil
}

func (s *scriptedEnv) Step(action int) (ts.TimeStep, error) {
	s.globalSteps++
	if s.faultOnStep > 0 && s.globalSteps == s.faultOnStep {
		return ts.TimeStep{}, environment.NewFault("step", assert.AnError)
	}

	s.n++
	if s.n >= s.episodeLength {
		return ts.New(ts.Last, 1, 0, s.obs(), s.n), nil
	}
	return ts.New(ts.Mid, 1, 1, s.obs(), s.n), nil
}

// countingAgent is an Agent that always selects action 0 and counts
// the calls it receives
type countingAgent struct {
	observes  int
	steps     int
	episodes  int
	firsts    int
	eval      bool
	stepError error
}

func (c *countingAgent) Step() error {
	c.steps++
	return c.stepError
}

func (c *countingAgent) Observe(action int, nextObs ts.TimeStep) error {
	c.observes++
	return nil
}

func (c *countingAgent) ObserveFirst(t ts.TimeStep) error {
	c.firsts++
	return nil
}

func (c *countingAgent) EndEpisode() error {
	c.episodes++
	return nil
}

func (c *countingAgent) SelectAction(t ts.TimeStep) (int, error) {
	return 0, nil
}

func (c *countingAgent) Eval()        { c.eval = true }
func (c *countingAgent) Train()       { c.eval = false }
func (c *countingAgent) IsEval() bool { return c.eval }

func TestRunStopsAtStepBudget(t *testing.T) {
	env := &scriptedEnv{episodeLength: 4}
	a := &countingAgent{}

	e, err := NewOnline(env, a, 10, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.Run())

	assert.Equal(t, 10, e.CurrentSteps())
	assert.Equal(t, 10, a.observes)
	assert.Equal(t, 10, a.steps)

	// Ten steps of four-step episodes: two episodes finished, the
	// third was cut off by the budget
	assert.Equal(t, 2, a.episodes)
	assert.Equal(t, 3, a.firsts)
}

func TestEnvironmentFaultAbandonsEpisode(t *testing.T) {
	env := &scriptedEnv{episodeLength: 100, faultOnStep: 3}
	a := &countingAgent{}

	e, err := NewOnline(env, a, 10, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.Run())

	// The fault abandoned the episode; a fresh Reset started another
	assert.GreaterOrEqual(t, env.resets, 2)

	// The faulted transition was never observed
	assert.Equal(t, e.CurrentSteps(), a.observes)
}

func TestDivergenceAbortsExperiment(t *testing.T) {
	env := &scriptedEnv{episodeLength: 100}
	a := &countingAgent{
		stepError: &agent.DivergenceError{Agent: "test", Loss: 1, Step: 1},
	}

	e, err := NewOnline(env, a, 10, nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, e.Run())
}

func TestTrackersReceiveEveryStep(t *testing.T) {
	env := &scriptedEnv{episodeLength: 5}
	a := &countingAgent{}
	filename := filepath.Join(t.TempDir(), "returns.bin")

	e, err := NewOnline(env, a, 10, []tracker.Tracker{
		tracker.NewReturn(filename),
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.Run())
	require.NoError(t, e.Save())

	data, err := tracker.LoadData(filename)
	require.NoError(t, err)

	// Two finished episodes of five reward-1 steps each
	assert.Equal(t, []float64{5, 5}, data)
}

func TestStopCancelsAtStepBoundary(t *testing.T) {
	env := &scriptedEnv{episodeLength: 1000}
	a := &countingAgent{}

	e, err := NewOnline(env, a, 1_000_000, nil, nil, nil)
	require.NoError(t, err)

	e.Stop()
	require.NoError(t, e.Run())
	assert.Equal(t, 0, e.CurrentSteps())
}

func TestNewOnlineValidatesMaxSteps(t *testing.T) {
	_, err := NewOnline(&scriptedEnv{episodeLength: 1}, &countingAgent{}, 0,
		nil, nil, nil)
	assert.Error(t, err)
}
