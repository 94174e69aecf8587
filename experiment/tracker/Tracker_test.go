package tracker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

func step(t ts.StepType, reward float64, number int) ts.TimeStep {
	return ts.New(t, reward, 1, mat.NewVecDense(1, []float64{0}), number)
}

func TestReturnAccumulatesPerEpisode(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tracker := NewReturn(filename)

	// Two episodes, returns 3 and -1
	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Mid, 1, 1))
	tracker.Track(step(ts.Last, 2, 2))

	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Last, -1, 1))

	require.NoError(t, tracker.Save())

	data, err := LoadData(filename)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, -1}, data)
}

func TestReturnIgnoresUnfinishedEpisode(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tracker := NewReturn(filename)

	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Mid, 1, 1))
	tracker.Track(step(ts.Last, 1, 2))

	// Second episode never finishes
	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Mid, 100, 1))

	require.NoError(t, tracker.Save())

	data, err := LoadData(filename)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, data)
}

func TestEpisodeLengthRecordsFinalStepNumber(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	tracker := NewEpisodeLength(filename)

	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Mid, 1, 1))
	tracker.Track(step(ts.Last, 1, 2))
	tracker.Track(step(ts.First, 0, 0))
	tracker.Track(step(ts.Last, 1, 7))

	require.NoError(t, tracker.Save())
	assert.FileExists(t, filename)
}

func TestLoadDataMissingFile(t *testing.T) {
	_, err := LoadData(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
