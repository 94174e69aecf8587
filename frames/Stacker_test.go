package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackerResetRepeatsFirstFrame(t *testing.T) {
	s, err := NewStacker(3, 2)
	require.NoError(t, err)

	state, err := s.Reset([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1, 2, 1, 2}, state)
	assert.Equal(t, 6, s.StateLen())
}

func TestStackerPushOrdersOldestFirst(t *testing.T) {
	s, err := NewStacker(3, 1)
	require.NoError(t, err)

	_, err = s.Reset([]float64{0})
	require.NoError(t, err)

	state, err := s.Push([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, state)

	state, err = s.Push([]float64{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, state)

	state, err = s.Push([]float64{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, state)
}

func TestStackerStateIsACopy(t *testing.T) {
	s, err := NewStacker(2, 1)
	require.NoError(t, err)

	first, err := s.Reset([]float64{5})
	require.NoError(t, err)

	_, err = s.Push([]float64{6})
	require.NoError(t, err)

	// The state returned before the push must not change
	assert.Equal(t, []float64{5, 5}, first)
}

func TestStackerPushBeforeReset(t *testing.T) {
	s, err := NewStacker(2, 1)
	require.NoError(t, err)

	_, err = s.Push([]float64{1})
	assert.Error(t, err)
}

func TestStackerRejectsWrongFrameLength(t *testing.T) {
	s, err := NewStacker(2, 3)
	require.NoError(t, err)

	_, err = s.Reset([]float64{1, 2})
	assert.Error(t, err)

	_, err = s.Reset([]float64{1, 2, 3})
	require.NoError(t, err)

	_, err = s.Push([]float64{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestNewStackerValidatesArguments(t *testing.T) {
	_, err := NewStacker(0, 1)
	assert.Error(t, err)

	_, err = NewStacker(1, 0)
	assert.Error(t, err)
}
