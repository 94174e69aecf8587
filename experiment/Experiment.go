// Package experiment implements functionality for running an
// agent-environment interaction loop
package experiment

import (
	"github.com/samuelfneumann/goarcade/experiment/tracker"
)

// Experiment runs an agent on an environment for some number of
// timesteps and records what happened
type Experiment interface {
	// Run runs the experiment to completion
	Run() error

	// RunEpisode runs a single episode, returning whether the
	// experiment's step budget has been exhausted
	RunEpisode() (bool, error)

	// Save saves the data tracked by the experiment's Trackers
	Save() error

	// Stop requests that the experiment stop at the next step boundary
	Stop()
}

// saveAll saves every Tracker, returning the first error encountered
func saveAll(trackers []tracker.Tracker) error {
	for _, t := range trackers {
		if err := t.Save(); err != nil {
			return err
		}
	}
	return nil
}
