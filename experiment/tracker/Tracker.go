// Package tracker implements metric sinks that observe experiment
// timesteps and save or emit aggregate data
package tracker

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

// Tracker keeps track of experiment data as timesteps stream past and
// saves or emits the aggregates when asked
type Tracker interface {
	Track(t ts.TimeStep)
	Save() error
}

// LoadData loads and returns the float64 data saved by a Tracker
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "loaddata: could not open data file")
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data []float64
	if err := dec.Decode(&data); err != nil {
		return nil, errors.Wrap(err, "loaddata: could not decode data")
	}

	return data, nil
}

// saveGob gob-encodes data to a file, overwriting it
func saveGob(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "save: could not create save file")
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(data); err != nil {
		return errors.Wrap(err, "save: could not encode data")
	}
	return nil
}
