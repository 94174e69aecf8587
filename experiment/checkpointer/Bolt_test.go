package checkpointer

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

// fakeWeights is a Serializable holding a slice of weights
type fakeWeights struct {
	Weights []float64
}

func (f *fakeWeights) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.Weights); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *fakeWeights) GobDecode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(&f.Weights)
}

func stepAt(number int) ts.TimeStep {
	return ts.New(ts.Mid, 0, 1, mat.NewVecDense(1, []float64{0}), number)
}

func TestBoltSnapshotRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ckpt.db")
	target := &fakeWeights{Weights: []float64{1, 2, 3}}

	ckpt, err := NewBolt(dbPath, target, 1)
	require.NoError(t, err)
	defer ckpt.Close()

	require.NoError(t, ckpt.Checkpoint(stepAt(0)))

	var restored fakeWeights
	require.NoError(t, ckpt.LoadLatest(&restored))
	assert.Equal(t, []float64{1, 2, 3}, restored.Weights)
}

func TestBoltRespectsInterval(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ckpt.db")
	target := &fakeWeights{Weights: []float64{1}}

	ckpt, err := NewBolt(dbPath, target, 10)
	require.NoError(t, err)
	defer ckpt.Close()

	require.NoError(t, ckpt.Checkpoint(stepAt(0)))

	// The next nine timesteps fall inside the interval and must not
	// overwrite the snapshot
	target.Weights = []float64{2}
	for n := 1; n < 10; n++ {
		require.NoError(t, ckpt.Checkpoint(stepAt(n)))
	}

	var restored fakeWeights
	require.NoError(t, ckpt.LoadLatest(&restored))
	assert.Equal(t, []float64{1}, restored.Weights)

	// The tenth timestep past the snapshot stores the new weights
	require.NoError(t, ckpt.Checkpoint(stepAt(10)))
	require.NoError(t, ckpt.LoadLatest(&restored))
	assert.Equal(t, []float64{2}, restored.Weights)
}

func TestBoltCheckpointsAcrossEpisodeBoundaries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ckpt.db")
	target := &fakeWeights{Weights: []float64{1}}

	ckpt, err := NewBolt(dbPath, target, 10)
	require.NoError(t, err)
	defer ckpt.Close()

	// One long episode snapshots the initial weights
	for n := 0; n < 15; n++ {
		require.NoError(t, ckpt.Checkpoint(stepAt(n)))
	}

	// Short episodes restart their step numbers at every reset; the
	// cumulative timestep count still crosses the interval
	target.Weights = []float64{2}
	for episode := 0; episode < 4; episode++ {
		for n := 0; n < 5; n++ {
			require.NoError(t, ckpt.Checkpoint(stepAt(n)))
		}
	}

	var restored fakeWeights
	require.NoError(t, ckpt.LoadLatest(&restored))
	assert.Equal(t, []float64{2}, restored.Weights)
}

func TestBoltLoadLatestWithoutSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ckpt.db")
	ckpt, err := NewBolt(dbPath, &fakeWeights{}, 1)
	require.NoError(t, err)
	defer ckpt.Close()

	var restored fakeWeights
	assert.Error(t, ckpt.LoadLatest(&restored))
}

func TestNewBoltValidatesArguments(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ckpt.db")

	_, err := NewBolt(dbPath, &fakeWeights{}, 0)
	assert.Error(t, err)

	_, err = NewBolt(dbPath, nil, 1)
	assert.Error(t, err)
}
