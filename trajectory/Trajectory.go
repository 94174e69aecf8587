// Package trajectory implements a fixed-length on-policy buffer with
// generalized advantage estimation - GAE(λ) - following
// https://arxiv.org/abs/1506.02438. Unlike a replay buffer the data is
// consumed once and discarded: Get empties the buffer.
package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Buffer accumulates on-policy rollout data until full. Episodes may
// end part way through the buffer; FinishPath closes the current path
// and subsequent Stores begin a new one, so a single buffer can span
// several episode boundaries.
type Buffer struct {
	obsSize int // Size of state observations
	maxSize int // Fixed rollout length

	currentPos   int // Current position in the buffer
	pathStartIdx int // Position in the buffer where current path starts

	lambda float64 // λ for GAE(λ) calculation
	gamma  float64 // Discount factor ℽ

	obsBuffer  []float64
	actBuffer  []int
	logpBuffer []float64
	advBuffer  []float64
	rewBuffer  []float64
	retBuffer  []float64
	valBuffer  []float64
}

// New creates and returns a new GAE(λ) buffer of fixed length size.
// With lambda = 1 the advantage reduces to the empirical return minus
// the value estimate.
func New(obsDim, size int, lambda, gamma float64) (*Buffer, error) {
	if obsDim < 1 || size < 1 {
		return nil, fmt.Errorf("trajectory: dimensions must be positive "+
			"\n\thave(obsDim=%v, size=%v)", obsDim, size)
	}
	if gamma < 0 || gamma > 1 {
		return nil, fmt.Errorf("trajectory: discount out of range [0, 1]: %v",
			gamma)
	}
	if lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("trajectory: lambda out of range [0, 1]: %v",
			lambda)
	}

	return &Buffer{
		obsSize:    obsDim,
		maxSize:    size,
		lambda:     lambda,
		gamma:      gamma,
		obsBuffer:  make([]float64, size*obsDim),
		actBuffer:  make([]int, size),
		logpBuffer: make([]float64, size),
		advBuffer:  make([]float64, size),
		rewBuffer:  make([]float64, size),
		retBuffer:  make([]float64, size),
		valBuffer:  make([]float64, size),
	}, nil
}

// Store stores a single timestep's state, action, reward, value
// estimate, and behaviour log probability to the Buffer
func (v *Buffer) Store(obs []float64, act int, rew, val,
	logProb float64) error {
	if v.currentPos >= v.maxSize {
		return fmt.Errorf("store: cannot add new transition, buffer at " +
			"maximum capacity")
	}
	if len(obs) != v.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			v.obsSize, len(obs))
	}

	start := v.currentPos * v.obsSize
	copy(v.obsBuffer[start:start+v.obsSize], obs)

	v.actBuffer[v.currentPos] = act
	v.logpBuffer[v.currentPos] = logProb
	v.rewBuffer[v.currentPos] = rew
	v.valBuffer[v.currentPos] = val
	v.currentPos++
	return nil
}

// FinishPath computes advantage estimates using GAE(λ) and
// rewards-to-go for the path stored since the last FinishPath. Call
// it when an episode ends or when the buffer fills mid-episode.
//
// The lastVal argument should be 0 if the path ended at a terminal
// state, and otherwise v(s), the value estimate of the state the path
// was cut off at. It bootstraps both the rewards-to-go and the
// temporal difference residuals past the cutoff.
func (v *Buffer) FinishPath(lastVal float64) {
	start := v.pathStartIdx
	stop := v.currentPos
	if start == stop {
		return
	}

	rews := append([]float64{}, v.rewBuffer[start:stop]...)
	rews = append(rews, lastVal)
	vals := append([]float64{}, v.valBuffer[start:stop]...)
	vals = append(vals, lastVal)

	// GAE(λ) advantage calculation: δ_t = r_t + ℽv(s') - v(s),
	// discounted-summed with ℽλ
	stateVals := mat.NewVecDense(len(vals)-1, vals[:len(vals)-1])
	nextStateVals := mat.NewVecDense(len(vals)-1, vals[1:])
	rewards := mat.NewVecDense(len(rews)-1, rews[:len(rews)-1])

	deltas := mat.NewVecDense(stateVals.Len(), nil)
	deltas.AddScaledVec(rewards, v.gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)

	copy(v.advBuffer[start:stop], discountCumSum(deltas, v.gamma*v.lambda))

	// Rewards-to-go
	rewards = mat.NewVecDense(len(rews), rews)
	rewsToGo := discountCumSum(rewards, v.gamma)

	copy(v.retBuffer[start:stop], rewsToGo[:len(rewsToGo)-1])

	v.pathStartIdx = v.currentPos
}

// Reset discards everything stored in the buffer without computing
// advantages. Used to throw away a partially collected segment.
func (v *Buffer) Reset() {
	v.currentPos = 0
	v.pathStartIdx = 0
}

// Full returns whether the buffer has reached its fixed length
func (v *Buffer) Full() bool {
	return v.currentPos == v.maxSize
}

// OpenPath returns whether steps have been stored since the last
// FinishPath
func (v *Buffer) OpenPath() bool {
	return v.pathStartIdx != v.currentPos
}

// Len returns the number of timesteps currently stored
func (v *Buffer) Len() int {
	return v.currentPos
}

// Get returns the observations, actions, behaviour log probabilities,
// advantages, and rewards-to-go stored in the buffer, then empties it.
// The buffer must be full and every stored step must belong to a
// finished path. If normalize is true, advantages are standardized to
// mean 0 and standard deviation 1 across the buffer.
func (v *Buffer) Get(normalize bool) ([]float64, []int, []float64, []float64,
	[]float64, error) {
	if v.currentPos != v.maxSize {
		return nil, nil, nil, nil, nil,
			fmt.Errorf("get: buffer must be full before sampling")
	}
	if v.pathStartIdx != v.currentPos {
		return nil, nil, nil, nil, nil,
			fmt.Errorf("get: open path, call FinishPath first")
	}

	obs := append([]float64{}, v.obsBuffer...)
	acts := append([]int{}, v.actBuffer...)
	logps := append([]float64{}, v.logpBuffer...)
	advs := append([]float64{}, v.advBuffer...)
	rets := append([]float64{}, v.retBuffer...)

	v.currentPos = 0
	v.pathStartIdx = 0

	if normalize {
		mean := stat.Mean(advs, nil)
		std := stat.StdDev(advs, nil) + 1e-8
		for i := range advs {
			advs[i] = (advs[i] - mean) / std
		}
	}

	return obs, acts, logps, advs, rets, nil
}

// discountCumSum computes and returns the discounted cumulative sum
// of all elements of a vector. Given a vector v = [x0 x1 x2 ... xN]
// and discount ℽ, this function computes and returns:
//
// [
//	x0 + ℽ x1 + ℽ^2 x2 + ... + ℽ^N xN
//	x1 + ℽ x2 + ... + ℽ^(N-1) xN
//	...
//	xN
// ]
func discountCumSum(x *mat.VecDense, discount float64) []float64 {
	discounts := mat.NewVecDense(x.Len(), nil)
	cumSums := make([]float64, x.Len())
	nextScaledRews := mat.NewVecDense(x.Len(), nil)
	backing := nextScaledRews.RawVector().Data

	for i := 0; i < x.Len(); i++ {
		discounts.ScaleVec(discount, discounts)
		discounts.SetVec(x.Len()-i-1, 1)

		nextScaledRews.MulElemVec(discounts, x)
		cumSums[x.Len()-i-1] = floats.Sum(backing[x.Len()-i-1:])
	}

	return cumSums
}
