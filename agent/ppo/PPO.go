package ppo

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/agent/policy"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/network"
	ts "github.com/samuelfneumann/goarcade/timestep"
	"github.com/samuelfneumann/goarcade/trajectory"
)

// PPO implements proximal policy optimization: trajectories are
// collected with the current policy, the log probability of each
// action is snapshotted at collection time, and the policy is updated
// by several epochs of minibatch gradient steps against the clipped
// surrogate objective
//
//	min(ρ·A, clip(ρ, 1-ε, 1+ε)·A),   ρ = exp(logπ_new - logπ_old)
//
// After the epochs the trajectory is discarded; PPO never reuses data
// across updates.
type PPO struct {
	behaviour *policy.SoftmaxAC

	// Training network operating on minibatches
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     G.Solver

	// Input nodes of the training graph
	actions     *G.Node // One-hot actions taken (m, |A|)
	advantages  *G.Node // (m,)
	returns     *G.Node // (m,)
	oldLogProbs *G.Node // (m,) snapshotted at collection time

	lossVal G.Value

	buffer        *trajectory.Buffer
	bufferSize    int
	minibatchSize int
	epochs        int
	normalize     bool
	numActions    int
	numFeatures   int
	updates       int

	rng *rand.Rand

	prevStep ts.TimeStep
	eval     bool
	logger   *zap.Logger
}

// New creates and returns a new PPO agent
func New(env environment.Environment, config Config,
	seed uint64) (*PPO, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	envSpec := env.Spec()
	numFeatures := envSpec.ObservationLength
	numActions := envSpec.NumActions

	// Behaviour network for selecting actions one state at a time
	g := G.NewGraph()
	behaviourNet, err := network.NewActorCriticMLP(numFeatures, 1,
		numActions, g, config.PolicyLayers, config.Biases,
		config.InitWFn.InitWFn(), config.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour network: %v",
			err)
	}
	behaviour, err := policy.NewSoftmaxAC(behaviourNet, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour policy: %v",
			err)
	}

	trainNet, err := behaviourNet.CloneWithBatch(config.MinibatchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create training network: %v",
			err)
	}

	buffer, err := trajectory.New(numFeatures, config.BufferSize,
		config.Lambda, config.Gamma)
	if err != nil {
		return nil, fmt.Errorf("new: could not create trajectory buffer: %v",
			err)
	}

	p := &PPO{
		behaviour:     behaviour,
		trainNet:      trainNet,
		solver:        config.Solver,
		buffer:        buffer,
		bufferSize:    config.BufferSize,
		minibatchSize: config.MinibatchSize,
		epochs:        config.Epochs,
		normalize:     config.NormalizeAdvantage,
		numActions:    numActions,
		numFeatures:   numFeatures,
		rng:           rand.New(rand.NewSource(seed)),
		logger:        zap.NewNop(),
	}
	if err := p.buildLossGraph(config); err != nil {
		return nil, err
	}

	return p, nil
}

// buildLossGraph adds the clipped surrogate objective, the critic
// loss, and the entropy bonus to the training network's graph
func (p *PPO) buildLossGraph(config Config) error {
	g := p.trainNet.Graph()
	m := p.minibatchSize

	p.actions = G.NewMatrix(g, tensor.Float64,
		G.WithShape(m, p.numActions), G.WithName("selectedActions"))
	p.advantages = G.NewVector(g, tensor.Float64, G.WithShape(m),
		G.WithName("advantages"))
	p.returns = G.NewVector(g, tensor.Float64, G.WithShape(m),
		G.WithName("returns"))
	p.oldLogProbs = G.NewVector(g, tensor.Float64, G.WithShape(m),
		G.WithName("oldLogProbs"))

	logits := p.trainNet.Prediction()[0]
	values := p.trainNet.Prediction()[1]

	// Log-softmax of the logits
	logProbs := G.Must(G.BroadcastSub(logits, network.LogSumExp(logits, 1),
		nil, []byte{1}))
	newLogProb := G.Must(G.Sum(
		G.Must(G.HadamardProd(logProbs, p.actions)), 1))

	// Probability ratio ρ between the updated and collection-time
	// policies
	ratio := G.Must(G.Exp(G.Must(G.Sub(newLogProb, p.oldLogProbs))))

	surrogate := G.Must(G.HadamardProd(ratio, p.advantages))
	clipped := G.Must(G.HadamardProd(
		clampNode(ratio, 1-config.EpsilonClip, 1+config.EpsilonClip),
		p.advantages,
	))
	objective := G.Must(G.Mean(minNode(surrogate, clipped)))
	policyLoss := G.Must(G.Neg(objective))

	valuesVec := G.Must(G.Reshape(values, tensor.Shape{m}))
	valueLoss := G.Must(G.Mean(
		G.Must(G.Square(G.Must(G.Sub(p.returns, valuesVec))))))

	// Negative entropy; minimizing it pushes the policy to explore
	probs := G.Must(G.Exp(logProbs))
	negEntropy := G.Must(G.Mean(
		G.Must(G.Sum(G.Must(G.HadamardProd(probs, logProbs)), 1))))

	cost := G.Must(G.Add(policyLoss,
		G.Must(G.Mul(valueLoss, G.NewConstant(config.ValueCoef)))))
	cost = G.Must(G.Add(cost,
		G.Must(G.Mul(negEntropy, G.NewConstant(config.EntropyCoef)))))

	G.Read(cost, &p.lossVal)

	if _, err := G.Grad(cost, p.trainNet.Learnables()...); err != nil {
		return fmt.Errorf("buildlossgraph: could not compute gradient: %v",
			err)
	}

	p.trainNetVM = G.NewTapeMachine(g,
		G.BindDualValues(p.trainNet.Learnables()...))
	return nil
}

// minNode computes the elementwise minimum of two nodes of the same
// shape using min(a, b) = (a + b - |a - b|) / 2, which is
// differentiable almost everywhere
func minNode(a, b *G.Node) *G.Node {
	sum := G.Must(G.Add(a, b))
	diff := G.Must(G.Abs(G.Must(G.Sub(a, b))))
	return G.Must(G.Mul(G.Must(G.Sub(sum, diff)), G.NewConstant(0.5)))
}

// clampNode clamps every element of a node to [lower, upper] using
// the same identity as minNode
func clampNode(a *G.Node, lower, upper float64) *G.Node {
	// min(a, upper)
	upperNode := G.NewConstant(upper)
	sum := G.Must(G.Add(a, upperNode))
	diff := G.Must(G.Abs(G.Must(G.Sub(a, upperNode))))
	clipped := G.Must(G.Mul(G.Must(G.Sub(sum, diff)), G.NewConstant(0.5)))

	// max(clipped, lower)
	lowerNode := G.NewConstant(lower)
	sum = G.Must(G.Add(clipped, lowerNode))
	diff = G.Must(G.Abs(G.Must(G.Sub(clipped, lowerNode))))
	return G.Must(G.Mul(G.Must(G.Add(sum, diff)), G.NewConstant(0.5)))
}

// SetLogger sets the structured logger the agent reports training
// diagnostics to
func (p *PPO) SetLogger(logger *zap.Logger) {
	p.logger = logger
}

// ObserveFirst observes and records the first episodic timestep. An
// open path at this point means the previous episode was abandoned
// before its final step; the path is closed with the critic's estimate
// of the last observed state so that its rewards cannot chain into the
// new episode.
func (p *PPO) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep %v is not the first of "+
			"its episode", t.Number)
	}

	if p.buffer.OpenPath() {
		tail, err := p.behaviour.ValueOf(rawObservation(p.prevStep))
		if err != nil {
			return fmt.Errorf("observefirst: could not close abandoned "+
				"path: %v", err)
		}
		p.buffer.FinishPath(tail)
	}

	p.prevStep = t
	return nil
}

// Observe records that action taken at the last observed state led to
// nextStep, storing the step in the current trajectory along with the
// behaviour policy's value estimate and log probability at selection
// time. Evaluation steps never enter the trajectory.
func (p *PPO) Observe(action int, nextStep ts.TimeStep) error {
	if p.eval {
		p.prevStep = nextStep
		return nil
	}

	if p.buffer.Full() {
		// Step has not consumed the previous trajectory yet; this
		// only happens if updates are disabled, so drop the oldest
		// data rather than grow without bound
		p.buffer.Reset()
	}

	err := p.buffer.Store(rawObservation(p.prevStep), action,
		nextStep.Reward, p.behaviour.Value(), p.behaviour.LogProb())
	if err != nil {
		return fmt.Errorf("observe: could not store step: %v", err)
	}

	if nextStep.Last() {
		p.buffer.FinishPath(0)
	}

	p.prevStep = nextStep
	return nil
}

// Step updates the agent's networks once a full trajectory has been
// collected: the tail is bootstrapped if the trajectory was cut off
// mid-episode, advantages are computed, and the policy is optimized
// for K epochs of shuffled minibatches before the trajectory is
// discarded. In evaluation mode learning is disabled entirely.
func (p *PPO) Step() error {
	if p.eval || !p.buffer.Full() {
		return nil
	}

	// Bootstrap the cut-off tail with the critic's estimate
	if p.buffer.OpenPath() {
		tail, err := p.behaviour.ValueOf(rawObservation(p.prevStep))
		if err != nil {
			return fmt.Errorf("step: could not bootstrap tail value: %v", err)
		}
		p.buffer.FinishPath(tail)
	}

	obs, acts, logps, advs, rets, err := p.buffer.Get(p.normalize)
	if err != nil {
		return fmt.Errorf("step: could not drain buffer: %v", err)
	}

	indices := make([]int, p.bufferSize)
	for i := range indices {
		indices[i] = i
	}

	for epoch := 0; epoch < p.epochs; epoch++ {
		p.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		for start := 0; start < p.bufferSize; start += p.minibatchSize {
			batch := indices[start : start+p.minibatchSize]
			if err := p.updateMinibatch(batch, obs, acts, logps, advs,
				rets); err != nil {
				return err
			}
		}
	}

	// The behaviour policy follows the updated weights; the drained
	// trajectory is gone for good
	if err := p.behaviour.Network().Set(p.trainNet); err != nil {
		return fmt.Errorf("step: could not sync behaviour policy: %v", err)
	}

	return nil
}

// updateMinibatch runs one gradient step on the rows of the
// trajectory selected by batch
func (p *PPO) updateMinibatch(batch []int, obs []float64, acts []int,
	logps, advs, rets []float64) error {
	m := p.minibatchSize

	batchObs := make([]float64, m*p.numFeatures)
	selected := make([]float64, m*p.numActions)
	batchLogps := make([]float64, m)
	batchAdvs := make([]float64, m)
	batchRets := make([]float64, m)

	for i, idx := range batch {
		copy(batchObs[i*p.numFeatures:(i+1)*p.numFeatures],
			obs[idx*p.numFeatures:(idx+1)*p.numFeatures])
		selected[i*p.numActions+acts[idx]] = 1.0
		batchLogps[i] = logps[idx]
		batchAdvs[i] = advs[idx]
		batchRets[i] = rets[idx]
	}

	if err := p.trainNet.SetInput(batchObs); err != nil {
		return fmt.Errorf("update: could not set input: %v", err)
	}
	if err := G.Let(p.actions, tensor.New(
		tensor.WithShape(m, p.numActions),
		tensor.WithBacking(selected),
	)); err != nil {
		return fmt.Errorf("update: could not set actions: %v", err)
	}
	if err := G.Let(p.oldLogProbs, tensor.New(
		tensor.WithShape(m), tensor.WithBacking(batchLogps),
	)); err != nil {
		return fmt.Errorf("update: could not set old log probs: %v", err)
	}
	if err := G.Let(p.advantages, tensor.New(
		tensor.WithShape(m), tensor.WithBacking(batchAdvs),
	)); err != nil {
		return fmt.Errorf("update: could not set advantages: %v", err)
	}
	if err := G.Let(p.returns, tensor.New(
		tensor.WithShape(m), tensor.WithBacking(batchRets),
	)); err != nil {
		return fmt.Errorf("update: could not set returns: %v", err)
	}

	if err := p.trainNetVM.RunAll(); err != nil {
		return fmt.Errorf("update: could not run training graph: %v", err)
	}

	loss := network.ScalarValue(p.lossVal)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return &agent.DivergenceError{Agent: "ppo", Loss: loss,
			Step: p.updates}
	}

	if err := p.solver.Step(p.trainNet.Model()); err != nil {
		return fmt.Errorf("update: could not step solver: %v", err)
	}
	p.trainNetVM.Reset()
	p.updates++

	p.logger.Debug("ppo update",
		zap.Int("update", p.updates),
		zap.Float64("loss", loss),
	)

	return nil
}

// SelectAction returns an action selected by the behaviour policy. In
// evaluation mode the selection is greedy.
func (p *PPO) SelectAction(t ts.TimeStep) (int, error) {
	return p.behaviour.SelectAction(t)
}

// TrainNet returns the network whose weights the agent adapts
func (p *PPO) TrainNet() network.NeuralNet {
	return p.trainNet
}

// Eval sets the agent into evaluation mode
func (p *PPO) Eval() {
	p.eval = true
	p.behaviour.Eval()
}

// Train sets the agent into training mode
func (p *PPO) Train() {
	p.eval = false
	p.behaviour.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (p *PPO) IsEval() bool { return p.eval }

// EndEpisode performs cleanup at the end of an episode
func (p *PPO) EndEpisode() error { return nil }

// Close cleans up the agent's virtual machines
func (p *PPO) Close() error {
	if err := p.behaviour.Close(); err != nil {
		return err
	}
	return p.trainNetVM.Close()
}

// rawObservation copies a timestep's observation into a flat slice
func rawObservation(t ts.TimeStep) []float64 {
	obs := make([]float64, t.Observation.Len())
	for i := range obs {
		obs[i] = t.Observation.AtVec(i)
	}
	return obs
}
