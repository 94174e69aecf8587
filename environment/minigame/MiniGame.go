// Package minigame implements a small deterministic reactive game
// rendered to binary frames. An avatar falls under gravity in a
// scrolling corridor of walls with single-cell gaps; the only control
// is a flap that pushes the avatar up. The game exists so that the
// learning algorithms have a self-contained environment to train
// against in examples and tests; real games are adapted to the
// environment.Environment interface externally.
package minigame

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goarcade/environment"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

const (
	// Frame dimensions
	Rows = 10
	Cols = 10

	// Column the avatar occupies
	avatarCol = 2

	// Columns between consecutive walls
	wallSpacing = 5

	// NumActions is the size of the discrete action set: do nothing
	// or flap
	NumActions = 2

	// Actions
	NoOp = 0
	Flap = 1
)

// Rewards
const (
	StepReward = 0.1 // Survived one frame
	PassReward = 1.0 // Passed a wall
	CrashPenalty = -1.0
)

// MiniGame implements environment.Environment. All dynamics are
// deterministic given the seed: gravity pulls the avatar down one row
// per frame, a flap moves it up two rows, and walls scroll left one
// column per frame with gap rows drawn from the seeded rng.
type MiniGame struct {
	discount float64
	rng      *rand.Rand

	row      int   // Avatar row
	walls    []int // Column of each live wall
	gaps     []int // Gap row of each live wall
	distance int   // Columns survived this episode
	stepNum  int
}

// New returns a new MiniGame with the given discount factor and seed.
func New(discount float64, seed uint64) (*MiniGame, error) {
	if discount < 0 || discount > 1 {
		return nil, fmt.Errorf("minigame: discount out of range [0, 1]: %v",
			discount)
	}

	m := &MiniGame{
		discount: discount,
		rng:      rand.New(rand.NewSource(seed)),
	}
	return m, nil
}

// Spec returns the observation and action layout of the game
func (m *MiniGame) Spec() environment.Spec {
	return environment.Spec{
		ObservationLength: Rows * Cols,
		NumActions:        NumActions,
	}
}

// Reset begins a new episode and returns its first timestep
func (m *MiniGame) Reset() (ts.TimeStep, error) {
	m.row = Rows / 2
	m.walls = []int{Cols - 1}
	m.gaps = []int{m.randGap()}
	m.distance = 0
	m.stepNum = 0

	return ts.New(ts.First, 0, m.discount, m.render(), 0), nil
}

// Step advances the game by one frame
func (m *MiniGame) Step(action int) (ts.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return ts.TimeStep{}, environment.NewFaultf("step",
			"no such action: %v", action)
	}

	// Avatar dynamics
	if action == Flap {
		m.row -= 2
	} else {
		m.row++
	}

	// Scroll walls and spawn the next one
	for i := range m.walls {
		m.walls[i]--
	}
	if m.walls[len(m.walls)-1] == Cols-1-wallSpacing {
		m.walls = append(m.walls, Cols-1)
		m.gaps = append(m.gaps, m.randGap())
	}

	m.distance++
	m.stepNum++

	reward := StepReward
	done := false

	// Ceiling and floor end the episode
	if m.row < 0 || m.row >= Rows {
		reward = CrashPenalty
		done = true
	}

	// Wall collision or pass
	if !done && m.walls[0] == avatarCol {
		if m.row == m.gaps[0] {
			reward = PassReward
		} else {
			reward = CrashPenalty
			done = true
		}
	}

	// Retire walls that scrolled off screen
	if m.walls[0] < 0 {
		m.walls = m.walls[1:]
		m.gaps = m.gaps[1:]
	}

	if done {
		return ts.New(ts.Last, reward, 0, m.render(), m.stepNum), nil
	}
	return ts.New(ts.Mid, reward, m.discount, m.render(), m.stepNum), nil
}

// Distance returns the number of frames survived this episode
func (m *MiniGame) Distance() int {
	return m.distance
}

// randGap draws the gap row for a newly spawned wall
func (m *MiniGame) randGap() int {
	return 1 + int(m.rng.Uint64()%(Rows-2))
}

// render rasterizes the current game state into a flattened binary
// frame in row major order
func (m *MiniGame) render() mat.Vector {
	frame := make([]float64, Rows*Cols)

	if m.row >= 0 && m.row < Rows {
		frame[m.row*Cols+avatarCol] = 1.0
	}

	for i, col := range m.walls {
		if col < 0 || col >= Cols {
			continue
		}
		for row := 0; row < Rows; row++ {
			if row == m.gaps[i] {
				continue
			}
			frame[row*Cols+col] = 1.0
		}
	}

	return mat.NewVecDense(len(frame), frame)
}
