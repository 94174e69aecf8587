// Package expreplay implements a bounded experience replay buffer for
// off-policy, value-based learning
package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

// Config describes a replay buffer. The buffer holds at most Capacity
// transitions, evicting the oldest first, and refuses to sample until
// it holds at least MinCapacity.
type Config struct {
	Capacity    int
	MinCapacity int
	BatchSize   int
	Seed        uint64
}

// Validate returns an error if the configuration is out of range
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("validate: capacity must be positive \n\thave(%v)",
			c.Capacity)
	}
	if c.MinCapacity < 1 || c.MinCapacity > c.Capacity {
		return fmt.Errorf("validate: need 1 <= min capacity <= capacity "+
			"\n\thave(min=%v, capacity=%v)", c.MinCapacity, c.Capacity)
	}
	if c.BatchSize < 1 || c.BatchSize > c.MinCapacity {
		return fmt.Errorf("validate: need 1 <= batch size <= min capacity "+
			"\n\thave(batch=%v, min=%v)", c.BatchSize, c.MinCapacity)
	}
	return nil
}

// Create returns the replay buffer the Config describes, storing
// states of featureLen features
func (c Config) Create(featureLen int) (*ExpReplay, error) {
	return New(c, featureLen)
}

// ExpReplay is a fixed-capacity ring buffer of transitions. Newly
// added transitions overwrite the oldest once capacity is reached.
// Transitions are stored in flat caches so that sampled batches can
// be handed to tensors without reshaping.
type ExpReplay struct {
	capacity    int
	minCapacity int
	batchSize   int
	featureLen  int

	insertPos int // Next slot to write; wraps at capacity
	size      int // Number of occupied slots

	stateCache     []float64
	nextStateCache []float64
	actionCache    []int
	rewardCache    []float64
	discountCache  []float64

	rng *rand.Rand
}

// New returns an empty replay buffer storing states of featureLen
// features each
func New(c Config, featureLen int) (*ExpReplay, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if featureLen < 1 {
		return nil, fmt.Errorf("expreplay: feature length must be positive "+
			"\n\thave(%v)", featureLen)
	}

	return &ExpReplay{
		capacity:       c.Capacity,
		minCapacity:    c.MinCapacity,
		batchSize:      c.BatchSize,
		featureLen:     featureLen,
		stateCache:     make([]float64, c.Capacity*featureLen),
		nextStateCache: make([]float64, c.Capacity*featureLen),
		actionCache:    make([]int, c.Capacity),
		rewardCache:    make([]float64, c.Capacity),
		discountCache:  make([]float64, c.Capacity),
		rng:            rand.New(rand.NewSource(c.Seed)),
	}, nil
}

// Add stores a transition, evicting the oldest stored transition if
// the buffer is at capacity
func (e *ExpReplay) Add(t ts.Transition) error {
	if t.State.Len() != e.featureLen || t.NextState.Len() != e.featureLen {
		return &ExpReplayError{
			Op: "add",
			Err: fmt.Errorf("illegal state length \n\twant(%v)\n\thave"+
				"(%v, %v)", e.featureLen, t.State.Len(), t.NextState.Len()),
		}
	}

	start := e.insertPos * e.featureLen
	for i := 0; i < e.featureLen; i++ {
		e.stateCache[start+i] = t.State.AtVec(i)
		e.nextStateCache[start+i] = t.NextState.AtVec(i)
	}
	e.actionCache[e.insertPos] = t.Action
	e.rewardCache[e.insertPos] = t.Reward
	e.discountCache[e.insertPos] = t.Discount

	e.insertPos = (e.insertPos + 1) % e.capacity
	if e.size < e.capacity {
		e.size++
	}
	return nil
}

// Sample draws BatchSize transitions uniformly at random with
// replacement and returns them as flat, row major caches of states,
// actions, rewards, effective discounts, and next states.
func (e *ExpReplay) Sample() ([]float64, []int, []float64, []float64,
	[]float64, error) {
	if e.size == 0 {
		return nil, nil, nil, nil, nil,
			&ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if e.size < e.minCapacity {
		return nil, nil, nil, nil, nil,
			&ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}

	states := make([]float64, e.batchSize*e.featureLen)
	nextStates := make([]float64, e.batchSize*e.featureLen)
	actions := make([]int, e.batchSize)
	rewards := make([]float64, e.batchSize)
	discounts := make([]float64, e.batchSize)

	for i := 0; i < e.batchSize; i++ {
		j := e.rng.Intn(e.size)

		copy(states[i*e.featureLen:(i+1)*e.featureLen],
			e.stateCache[j*e.featureLen:(j+1)*e.featureLen])
		copy(nextStates[i*e.featureLen:(i+1)*e.featureLen],
			e.nextStateCache[j*e.featureLen:(j+1)*e.featureLen])
		actions[i] = e.actionCache[j]
		rewards[i] = e.rewardCache[j]
		discounts[i] = e.discountCache[j]
	}

	return states, actions, rewards, discounts, nextStates, nil
}

// Len returns the number of transitions currently stored
func (e *ExpReplay) Len() int {
	return e.size
}

// Capacity returns the maximum number of transitions the buffer holds
func (e *ExpReplay) Capacity() int {
	return e.capacity
}

// BatchSize returns the number of transitions drawn per Sample
func (e *ExpReplay) BatchSize() int {
	return e.batchSize
}
