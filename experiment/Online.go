package experiment

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/experiment/checkpointer"
	"github.com/samuelfneumann/goarcade/experiment/tracker"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// Online is an Experiment that runs an agent online on an environment:
// the agent selects actions, observes the resulting transitions, and
// updates after every environmental step. No offline evaluation is
// performed.
//
// Environment faults abandon the current episode and resume learning
// from a fresh Reset(). Agent divergence aborts the experiment with an
// error. Stop() cancels the experiment cooperatively at the next step
// boundary.
type Online struct {
	environment.Environment
	agent.Agent
	maxSteps     int
	currentSteps int

	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer

	stop     chan struct{}
	stopOnce sync.Once
	stopped  bool

	logger *zap.Logger
}

// NewOnline returns a new online experiment on env with a step budget
// of maxSteps. The trackers record per-step data and the checkpointers
// snapshot agent state; either may be nil.
func NewOnline(env environment.Environment, a agent.Agent, maxSteps int,
	trackers []tracker.Tracker, checkpointers []checkpointer.Checkpointer,
	logger *zap.Logger) (*Online, error) {
	if maxSteps < 1 {
		return nil, fmt.Errorf("newonline: maxSteps must be positive \n\t"+
			"have(%v)", maxSteps)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Online{
		Environment:   env,
		Agent:         a,
		maxSteps:      maxSteps,
		trackers:      trackers,
		checkpointers: checkpointers,
		stop:          make(chan struct{}),
		logger:        logger,
	}, nil
}

// RunEpisode runs a single episode of the experiment, returning
// whether or not the experiment's step budget has been exhausted
func (o *Online) RunEpisode() (bool, error) {
	step, err := o.Environment.Reset()
	if err != nil {
		return true, fmt.Errorf("runepisode: could not reset "+
			"environment: %v", err)
	}
	if err := o.Agent.ObserveFirst(step); err != nil {
		return true, fmt.Errorf("runepisode: %v", err)
	}
	o.track(step)

	for !step.Last() && o.currentSteps < o.maxSteps {
		select {
		case <-o.stop:
			o.stopped = true
			return true, nil
		default:
		}

		action, err := o.Agent.SelectAction(step)
		if err != nil {
			return true, fmt.Errorf("runepisode: could not select "+
				"action: %v", err)
		}

		step, err = o.Environment.Step(action)
		if err != nil {
			if !environment.IsFault(err) {
				return true, fmt.Errorf("runepisode: could not step "+
					"environment: %v", err)
			}

			// Abandon the episode on a fault and resume from a fresh
			// start state
			o.logger.Warn("environment fault, abandoning episode",
				zap.Int("step", o.currentSteps),
				zap.Error(err),
			)
			return o.currentSteps >= o.maxSteps, nil
		}
		o.currentSteps++

		if err := o.Agent.Observe(action, step); err != nil {
			return true, fmt.Errorf("runepisode: %v", err)
		}

		if err := o.Agent.Step(); err != nil {
			if agent.IsDivergence(err) {
				return true, fmt.Errorf("runepisode: %v", err)
			}
			return true, fmt.Errorf("runepisode: could not update "+
				"agent: %v", err)
		}

		o.track(step)
		if err := o.checkpoint(step); err != nil {
			return true, fmt.Errorf("runepisode: %v", err)
		}
	}

	if step.Last() {
		if err := o.Agent.EndEpisode(); err != nil {
			return true, fmt.Errorf("runepisode: %v", err)
		}
	}

	return o.currentSteps >= o.maxSteps, nil
}

// Run runs the entire experiment to completion
func (o *Online) Run() error {
	done := false
	var err error

	for !done {
		done, err = o.RunEpisode()
		if err != nil {
			return fmt.Errorf("run: %v", err)
		}
	}

	if closer, ok := o.Agent.(agent.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("run: could not close agent: %v", err)
		}
	}

	if o.stopped {
		o.logger.Info("experiment stopped",
			zap.Int("steps", o.currentSteps),
		)
	} else {
		o.logger.Info("experiment finished",
			zap.Int("steps", o.currentSteps),
		)
	}
	return nil
}

// Stop requests that the experiment stop at the next step boundary.
// It is safe to call from another goroutine and safe to call more than
// once.
func (o *Online) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Save saves all the data recorded by the experiment's Trackers
func (o *Online) Save() error {
	return saveAll(o.trackers)
}

// CurrentSteps returns the number of environmental steps taken so far
func (o *Online) CurrentSteps() int {
	return o.currentSteps
}

// track tracks the timestep with each of the experiment's Trackers
func (o *Online) track(t ts.TimeStep) {
	for _, tracker := range o.trackers {
		tracker.Track(t)
	}
}

// checkpoint offers the timestep to each of the experiment's
// Checkpointers
func (o *Online) checkpoint(t ts.TimeStep) error {
	for _, c := range o.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			return fmt.Errorf("checkpoint: %v", err)
		}
	}
	return nil
}
