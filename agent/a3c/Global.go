package a3c

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goarcade/network"
)

// Global holds the shared parameter tensors that all workers read
// from and apply gradients to. Gradient application is a per-tensor
// in-place subtraction: concurrent workers may interleave freely and,
// because vanilla SGD updates commute, the final parameters do not
// depend on the interleaving.
//
// The read-write mutex is NOT a consistency lock between workers;
// workers only ever take the read side. The write side is a brief
// barrier so that Snapshot sees parameters with no update in flight.
type Global struct {
	mu       sync.RWMutex
	params   []*tensor.Dense
	stepSize float64

	stepsRemaining int64
}

// newGlobal copies the learnable values of template into a fresh
// shared parameter set
func newGlobal(template network.NeuralNet, stepSize float64,
	totalSteps int) *Global {
	learnables := template.Learnables()
	params := make([]*tensor.Dense, len(learnables))
	for i, learnable := range learnables {
		params[i] = learnable.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}

	return &Global{
		params:         params,
		stepSize:       stepSize,
		stepsRemaining: int64(totalSteps),
	}
}

// claimStep claims one step of the global environment-step budget,
// returning false once the budget is spent
func (g *Global) claimStep() bool {
	return atomic.AddInt64(&g.stepsRemaining, -1) >= 0
}

// StepsRemaining returns the unclaimed part of the global step budget
func (g *Global) StepsRemaining() int {
	remaining := atomic.LoadInt64(&g.stepsRemaining)
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// ApplyGradients applies one vanilla SGD update to the shared
// parameters in place:
//
//	θ <- θ - α·∇θ
//
// Workers call this without coordinating with each other.
func (g *Global) ApplyGradients(grads []*tensor.Dense) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(grads) != len(g.params) {
		return errors.Errorf("applygradients: gradient count mismatch: "+
			"want %v, have %v", len(g.params), len(grads))
	}

	for i, grad := range grads {
		scaled, err := grad.MulScalar(g.stepSize, false)
		if err != nil {
			return errors.Wrapf(err, "applygradients: could not scale "+
				"gradient %v", i)
		}
		if _, err := g.params[i].Sub(scaled, tensor.UseUnsafe()); err != nil {
			return errors.Wrapf(err, "applygradients: could not apply "+
				"gradient %v", i)
		}
	}
	return nil
}

// SyncInto sets the learnable weights of net to the current shared
// parameters
func (g *Global) SyncInto(net network.NeuralNet) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	learnables := net.Learnables()
	if len(learnables) != len(g.params) {
		return errors.Errorf("syncinto: learnable count mismatch: "+
			"want %v, have %v", len(g.params), len(learnables))
	}

	for i, learnable := range learnables {
		value := g.params[i].Clone().(*tensor.Dense)
		if err := G.Let(learnable, value); err != nil {
			return errors.Wrapf(err, "syncinto: could not set learnable %v",
				i)
		}
	}
	return nil
}

// Snapshot returns a consistent copy of the shared parameters. The
// write lock is held only for the duration of the copy, briefly
// barring gradient applications; checkpointing uses this.
func (g *Global) Snapshot() []*tensor.Dense {
	g.mu.Lock()
	defer g.mu.Unlock()

	copies := make([]*tensor.Dense, len(g.params))
	for i, param := range g.params {
		copies[i] = param.Clone().(*tensor.Dense)
	}
	return copies
}

// Restore overwrites the shared parameters with a previously taken
// snapshot
func (g *Global) Restore(params []*tensor.Dense) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(params) != len(g.params) {
		return errors.Errorf("restore: parameter count mismatch: "+
			"want %v, have %v", len(g.params), len(params))
	}
	for i, param := range params {
		g.params[i] = param.Clone().(*tensor.Dense)
	}
	return nil
}
