// Package frames implements stacking of consecutive observations into
// the state vector fed to function approximators
package frames

import "fmt"

// Stacker maintains a sliding window of the depth most recent
// observations. On episode reset the window is filled by repeating the
// first observation, so the produced state is always exactly depth
// frames deep. States returned are fresh copies; the caller may keep
// them without worrying about later pushes.
type Stacker struct {
	depth    int
	frameLen int
	window   []float64
	started  bool
}

// NewStacker returns a Stacker producing states of depth stacked
// frames, each of frameLen features.
func NewStacker(depth, frameLen int) (*Stacker, error) {
	if depth < 1 {
		return nil, fmt.Errorf("newstacker: depth must be positive \n\t"+
			"have(%v)", depth)
	}
	if frameLen < 1 {
		return nil, fmt.Errorf("newstacker: frame length must be positive "+
			"\n\thave(%v)", frameLen)
	}

	return &Stacker{
		depth:    depth,
		frameLen: frameLen,
		window:   make([]float64, depth*frameLen),
	}, nil
}

// StateLen returns the length of the flattened states the Stacker
// produces
func (s *Stacker) StateLen() int {
	return s.depth * s.frameLen
}

// Reset begins a new episode with frame as its first observation. The
// window is filled with depth copies of frame.
func (s *Stacker) Reset(frame []float64) ([]float64, error) {
	if len(frame) != s.frameLen {
		return nil, fmt.Errorf("reset: invalid frame length \n\twant(%v)"+
			"\n\thave(%v)", s.frameLen, len(frame))
	}

	for i := 0; i < s.depth; i++ {
		copy(s.window[i*s.frameLen:(i+1)*s.frameLen], frame)
	}
	s.started = true

	return s.State(), nil
}

// Push drops the oldest frame from the window, appends frame, and
// returns the resulting state. Reset must have been called since
// construction.
func (s *Stacker) Push(frame []float64) ([]float64, error) {
	if !s.started {
		return nil, fmt.Errorf("push: push before episode reset")
	}
	if len(frame) != s.frameLen {
		return nil, fmt.Errorf("push: invalid frame length \n\twant(%v)"+
			"\n\thave(%v)", s.frameLen, len(frame))
	}

	copy(s.window, s.window[s.frameLen:])
	copy(s.window[(s.depth-1)*s.frameLen:], frame)

	return s.State(), nil
}

// State returns a copy of the current stacked state
func (s *Stacker) State() []float64 {
	state := make([]float64, len(s.window))
	copy(state, s.window)
	return state
}
