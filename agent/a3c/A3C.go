package a3c

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goarcade/agent/policy"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/network"
)

// A3C coordinates N workers training a shared actor-critic network
// asynchronously. Unlike the single-environment agents, A3C owns its
// training loop: each worker drives its own environment copy, so the
// coordinator is constructed with an environment factory and run with
// Run rather than being driven step-by-step by an experiment.
type A3C struct {
	config Config
	global *Global

	workers  []*worker
	template network.NeuralNet // Batch-1 network defining the layout

	stop     chan struct{}
	stopOnce sync.Once

	errOnce sync.Once
	err     error

	logger *zap.Logger
}

// New creates a new A3C coordinator. makeEnv is called once per
// worker with a distinct seed; every returned environment must have
// the same observation and action layout.
func New(makeEnv func(seed uint64) (environment.Environment, error),
	config Config, seed uint64) (*A3C, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	envs := make([]environment.Environment, config.Workers)
	for i := range envs {
		env, err := makeEnv(seed + uint64(i))
		if err != nil {
			return nil, errors.Wrapf(err, "a3c: could not create "+
				"environment %v", i)
		}
		envs[i] = env
	}
	envSpec := envs[0].Spec()

	g := G.NewGraph()
	template, err := network.NewActorCriticMLP(envSpec.ObservationLength, 1,
		envSpec.NumActions, g, config.PolicyLayers, config.Biases,
		config.InitWFn.InitWFn(), config.Activations)
	if err != nil {
		return nil, errors.Wrap(err, "a3c: could not create network")
	}

	global := newGlobal(template, config.StepSize, config.TotalSteps)
	logger := zap.NewNop()

	a := &A3C{
		config:   config,
		global:   global,
		template: template,
		stop:     make(chan struct{}),
		logger:   logger,
	}

	a.workers = make([]*worker, config.Workers)
	for i := range a.workers {
		w, err := newWorker(i, envs[i], template, global, config,
			seed+uint64(i), logger)
		if err != nil {
			return nil, errors.Wrapf(err, "a3c: could not create worker %v",
				i)
		}
		a.workers[i] = w
	}

	return a, nil
}

// SetLogger sets the structured logger the coordinator and its
// workers report to
func (a *A3C) SetLogger(logger *zap.Logger) {
	a.logger = logger
	for _, w := range a.workers {
		w.logger = logger
	}
}

// Run starts every worker and blocks until the global step budget is
// spent, Stop is called, or a worker reports a fatal error. The first
// fatal error stops all workers and is returned.
func (a *A3C) Run() error {
	a.logger.Info("a3c training started",
		zap.Int("workers", a.config.Workers),
		zap.Int("totalSteps", a.config.TotalSteps),
	)

	var wg sync.WaitGroup
	wg.Add(len(a.workers))
	for _, w := range a.workers {
		go w.run(a.stop, &wg, a.fail)
	}
	wg.Wait()

	a.logger.Info("a3c training finished",
		zap.Int("stepsRemaining", a.global.StepsRemaining()),
	)
	return a.err
}

// Stop asks every worker to wind down at its next step boundary.
// In-flight updates complete; no worker is killed mid-update.
func (a *A3C) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// fail records the first fatal error and stops all workers
func (a *A3C) fail(err error) {
	a.errOnce.Do(func() {
		a.err = err
		a.logger.Error("a3c worker failed", zap.Error(err))
	})
	a.Stop()
}

// Global returns the shared parameter set, for checkpointing
func (a *A3C) Global() *Global {
	return a.global
}

// EvalPolicy returns a greedy policy over the current shared
// parameters. The policy holds its own network copy; it does not
// track later training.
func (a *A3C) EvalPolicy(seed uint64) (*policy.SoftmaxAC, error) {
	net, err := a.template.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "evalpolicy: could not clone network")
	}
	if err := a.global.SyncInto(net); err != nil {
		return nil, errors.Wrap(err, "evalpolicy: could not sync network")
	}

	pol, err := policy.NewSoftmaxAC(net, seed)
	if err != nil {
		return nil, errors.Wrap(err, "evalpolicy: could not create policy")
	}
	pol.Eval()
	return pol, nil
}
