// Package checkpointer implements periodic snapshotting of agent state
// during an experiment
package checkpointer

import (
	"encoding/gob"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

// Serializable is anything that can be snapshotted to and restored
// from a stream of bytes
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer checkpoints experiment state at well-defined points. A
// Checkpointer is offered every timestep the experiment sees and
// decides for itself which of them trigger a snapshot.
type Checkpointer interface {
	Checkpoint(t ts.TimeStep) error
}
