package a3c

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/agent/policy"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/network"
	ts "github.com/samuelfneumann/goarcade/timestep"
	"github.com/samuelfneumann/goarcade/trajectory"
)

// worker owns one environment copy and one set of local networks. Per
// cycle it synchronizes its local weights with the shared parameters,
// rolls out a fixed-length segment, and applies the segment's
// gradients to the shared parameters.
type worker struct {
	id     int
	env    environment.Environment
	policy *policy.SoftmaxAC
	global *Global

	// Local training network operating on whole segments
	trainNet network.NeuralNet
	vm       G.VM

	// Input nodes of the training graph
	actions    *G.Node // One-hot actions taken (L, |A|)
	advantages *G.Node // (L,)
	returns    *G.Node // (L,)

	lossVal G.Value

	buffer        *trajectory.Buffer
	rolloutLength int
	normalize     bool
	numActions    int
	updates       int

	step   ts.TimeStep
	logger *zap.Logger
}

// newWorker builds a worker around a fresh clone of the template
// network
func newWorker(id int, env environment.Environment,
	template network.NeuralNet, global *Global, config Config,
	seed uint64, logger *zap.Logger) (*worker, error) {
	envSpec := env.Spec()

	policyNet, err := template.CloneWithBatch(1)
	if err != nil {
		return nil, errors.Wrap(err, "newworker: could not clone policy "+
			"network")
	}
	pol, err := policy.NewSoftmaxAC(policyNet, seed)
	if err != nil {
		return nil, errors.Wrap(err, "newworker: could not create policy")
	}

	trainNet, err := template.CloneWithBatch(config.RolloutLength)
	if err != nil {
		return nil, errors.Wrap(err, "newworker: could not clone training "+
			"network")
	}

	buffer, err := trajectory.New(envSpec.ObservationLength,
		config.RolloutLength, config.Lambda, config.Gamma)
	if err != nil {
		return nil, errors.Wrap(err, "newworker: could not create "+
			"trajectory buffer")
	}

	w := &worker{
		id:            id,
		env:           env,
		policy:        pol,
		global:        global,
		trainNet:      trainNet,
		buffer:        buffer,
		rolloutLength: config.RolloutLength,
		normalize:     config.NormalizeAdvantage,
		numActions:    envSpec.NumActions,
		logger:        logger,
	}
	if err := w.buildLossGraph(config); err != nil {
		return nil, err
	}

	return w, nil
}

// buildLossGraph adds the actor-critic loss to the training network's
// graph:
//
//	-mean(logπ(a|s)·A) + c_v·mean((R - V(s))²) - c_e·mean(H(π(·|s)))
//
// Advantages and returns enter the graph as plain inputs, so no
// gradient flows through the advantage estimates.
func (w *worker) buildLossGraph(config Config) error {
	g := w.trainNet.Graph()
	L := w.rolloutLength

	w.actions = G.NewMatrix(g, tensor.Float64,
		G.WithShape(L, w.numActions), G.WithName("selectedActions"))
	w.advantages = G.NewVector(g, tensor.Float64, G.WithShape(L),
		G.WithName("advantages"))
	w.returns = G.NewVector(g, tensor.Float64, G.WithShape(L),
		G.WithName("returns"))

	logits := w.trainNet.Prediction()[0]
	values := w.trainNet.Prediction()[1]

	// Log-softmax of the logits
	logProbs := G.Must(G.BroadcastSub(logits, network.LogSumExp(logits, 1),
		nil, []byte{1}))
	selectedLogProb := G.Must(G.Sum(
		G.Must(G.HadamardProd(logProbs, w.actions)), 1))

	policyLoss := G.Must(G.Mean(
		G.Must(G.HadamardProd(selectedLogProb, w.advantages))))
	policyLoss = G.Must(G.Neg(policyLoss))

	valuesVec := G.Must(G.Reshape(values, tensor.Shape{L}))
	valueLoss := G.Must(G.Mean(
		G.Must(G.Square(G.Must(G.Sub(w.returns, valuesVec))))))

	// Negative entropy; minimizing it pushes the policy to explore
	probs := G.Must(G.Exp(logProbs))
	negEntropy := G.Must(G.Mean(
		G.Must(G.Sum(G.Must(G.HadamardProd(probs, logProbs)), 1))))

	cost := G.Must(G.Add(policyLoss,
		G.Must(G.Mul(valueLoss, G.NewConstant(config.ValueCoef)))))
	cost = G.Must(G.Add(cost,
		G.Must(G.Mul(negEntropy, G.NewConstant(config.EntropyCoef)))))

	G.Read(cost, &w.lossVal)

	if _, err := G.Grad(cost, w.trainNet.Learnables()...); err != nil {
		return errors.Wrap(err, "buildlossgraph: could not compute gradient")
	}

	w.vm = G.NewTapeMachine(g,
		G.BindDualValues(w.trainNet.Learnables()...))
	return nil
}

// run is the worker's main loop: sync, collect, update, repeat until
// the stop channel closes or the global step budget runs out. Fatal
// errors are reported through fail, which stops every worker.
func (w *worker) run(stop <-chan struct{}, wg *sync.WaitGroup,
	fail func(error)) {
	defer wg.Done()

	first, err := w.env.Reset()
	if err != nil {
		fail(errors.Wrapf(err, "worker %v: could not reset environment",
			w.id))
		return
	}
	w.step = first

	w.logger.Info("worker started", zap.Int("worker", w.id))
	defer w.logger.Info("worker stopped", zap.Int("worker", w.id))

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := w.global.SyncInto(w.policy.Network()); err != nil {
			fail(errors.Wrapf(err, "worker %v", w.id))
			return
		}
		if err := w.global.SyncInto(w.trainNet); err != nil {
			fail(errors.Wrapf(err, "worker %v", w.id))
			return
		}

		full, err := w.collect(stop)
		if err != nil {
			fail(errors.Wrapf(err, "worker %v", w.id))
			return
		}
		if !full {
			// Stopped or out of budget mid-segment; drop it
			w.buffer.Reset()
			return
		}

		if err := w.update(); err != nil {
			fail(errors.Wrapf(err, "worker %v", w.id))
			return
		}
	}
}

// collect rolls out one fixed-length segment, spanning episode
// boundaries. Episode ends close the current path with a 0 tail; a
// cut-off end bootstraps with the critic's value of the next state.
// Environment faults are isolated: the partial segment is dropped and
// the environment reset.
func (w *worker) collect(stop <-chan struct{}) (bool, error) {
	for !w.buffer.Full() {
		select {
		case <-stop:
			return false, nil
		default:
		}

		if !w.global.claimStep() {
			return false, nil
		}

		action, err := w.policy.SelectAction(w.step)
		if err != nil {
			return false, errors.Wrap(err, "collect: could not select action")
		}
		obs := rawObservation(w.step)
		value := w.policy.Value()
		logProb := w.policy.LogProb()

		next, err := w.env.Step(action)
		if err != nil {
			if !environment.IsFault(err) {
				return false, errors.Wrap(err, "collect: could not step "+
					"environment")
			}

			w.logger.Warn("environment fault, abandoning segment",
				zap.Int("worker", w.id),
				zap.Error(err),
			)
			w.buffer.Reset()
			first, rerr := w.env.Reset()
			if rerr != nil {
				return false, errors.Wrap(rerr, "collect: could not reset "+
					"faulted environment")
			}
			w.step = first
			continue
		}

		err = w.buffer.Store(obs, action, next.Reward, value, logProb)
		if err != nil {
			return false, errors.Wrap(err, "collect: could not store step")
		}

		if next.Last() {
			w.buffer.FinishPath(0)
			first, rerr := w.env.Reset()
			if rerr != nil {
				return false, errors.Wrap(rerr, "collect: could not reset "+
					"environment")
			}
			w.step = first
		} else {
			w.step = next
		}
	}

	// Bootstrap the cut-off tail with the critic's estimate
	if w.buffer.OpenPath() {
		tail, err := w.policy.ValueOf(rawObservation(w.step))
		if err != nil {
			return false, errors.Wrap(err, "collect: could not bootstrap "+
				"tail value")
		}
		w.buffer.FinishPath(tail)
	}

	return true, nil
}

// update computes the segment's gradients locally and applies them to
// the shared parameters
func (w *worker) update() error {
	obs, acts, _, advs, rets, err := w.buffer.Get(w.normalize)
	if err != nil {
		return errors.Wrap(err, "update: could not drain buffer")
	}

	if err := w.trainNet.SetInput(obs); err != nil {
		return errors.Wrap(err, "update: could not set input")
	}

	selected := make([]float64, w.rolloutLength*w.numActions)
	for i, a := range acts {
		selected[i*w.numActions+a] = 1.0
	}
	if err := G.Let(w.actions, tensor.New(
		tensor.WithShape(w.rolloutLength, w.numActions),
		tensor.WithBacking(selected),
	)); err != nil {
		return errors.Wrap(err, "update: could not set actions")
	}
	if err := G.Let(w.advantages, tensor.New(
		tensor.WithShape(w.rolloutLength),
		tensor.WithBacking(advs),
	)); err != nil {
		return errors.Wrap(err, "update: could not set advantages")
	}
	if err := G.Let(w.returns, tensor.New(
		tensor.WithShape(w.rolloutLength),
		tensor.WithBacking(rets),
	)); err != nil {
		return errors.Wrap(err, "update: could not set returns")
	}

	if err := w.vm.RunAll(); err != nil {
		return errors.Wrap(err, "update: could not run training graph")
	}

	loss := network.ScalarValue(w.lossVal)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return &agent.DivergenceError{Agent: "a3c", Loss: loss,
			Step: w.updates}
	}

	grads := make([]*tensor.Dense, len(w.trainNet.Learnables()))
	for i, learnable := range w.trainNet.Learnables() {
		gradVal, err := learnable.Grad()
		if err != nil {
			return errors.Wrapf(err, "update: could not read gradient %v", i)
		}
		grads[i] = gradVal.(*tensor.Dense).Clone().(*tensor.Dense)
	}
	w.vm.Reset()

	if err := w.global.ApplyGradients(grads); err != nil {
		return errors.Wrap(err, "update: could not apply gradients")
	}
	w.updates++

	w.logger.Debug("worker update",
		zap.Int("worker", w.id),
		zap.Int("update", w.updates),
		zap.Float64("loss", loss),
	)

	return nil
}

// rawObservation copies a timestep's observation into a flat slice
func rawObservation(t ts.TimeStep) []float64 {
	obs := make([]float64, t.Observation.Len())
	for i := range obs {
		obs[i] = t.Observation.AtVec(i)
	}
	return obs
}
