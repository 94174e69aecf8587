package deepq

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goarcade/agent"
	"github.com/samuelfneumann/goarcade/agent/policy"
	"github.com/samuelfneumann/goarcade/environment"
	"github.com/samuelfneumann/goarcade/expreplay"
	"github.com/samuelfneumann/goarcade/network"
	ts "github.com/samuelfneumann/goarcade/timestep"
)

// DeepQ implements the deep Q-learning algorithm with uniform
// experience replay and a target network, using the MSE TD loss:
//
//	y = r + ℽ * max[Q_target(s', a')]
//	loss = mean((y - Q(s, a))²)
//
// Transitions store the effective discount ℽ, which is 0 on episode
// ends, so the update target reduces to the reward exactly on
// terminal transitions.
type DeepQ struct {
	// Behaviour policy for selecting actions one state at a time
	behaviour *policy.EGreedy

	// Network whose weights are adapted, operating on batches
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     G.Solver

	// Network providing the update target for a batch of inputs
	targetNet   network.NeuralNet
	targetNetVM G.VM

	// Target network update schedule
	tau                  float64
	targetUpdateInterval int
	gradientSteps        int

	// Learning step schedule
	updateInterval int
	collectSteps   int

	// Input nodes of the training graph
	nextStateActionValues *G.Node
	rewards               *G.Node
	discounts             *G.Node
	selectedActions       *G.Node // One-hot actions taken at the states

	lossVal G.Value // Loss of the last update, for divergence checks

	replay     *expreplay.ExpReplay
	numActions int
	batchSize  int

	// Previous state, for building transitions
	prevStep ts.TimeStep

	eval   bool
	logger *zap.Logger
}

// New creates and returns a new DeepQ agent
func New(env environment.Environment, config Config,
	seed uint64) (*DeepQ, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	envSpec := env.Spec()
	numFeatures := envSpec.ObservationLength
	numActions := envSpec.NumActions
	batchSize := config.Replay.BatchSize

	// Behaviour network for selecting actions one state at a time
	g := G.NewGraph()
	behaviourNet, err := network.NewMultiHeadMLP(numFeatures, 1, numActions,
		g, config.PolicyLayers, config.Biases, config.InitWFn.InitWFn(),
		config.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour network: %v",
			err)
	}

	behaviour, err := policy.NewEGreedy(behaviourNet,
		config.Exploration.Create(), seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour policy: %v",
			err)
	}

	// Create a training network which learns the weights
	trainNet, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create learning network: %v",
			err)
	}
	gTrain := trainNet.Graph()

	// Create the target network which provides the update target
	targetNet, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	// Create nodes to compute the update target: r + ℽ max[Q(s', a')]
	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetActionVals"))
	rewards := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"))
	discounts := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("discount"))

	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// Action selected at each state, needed to compute the loss using
	// the correct action value since the network outputs one action
	// value per environmental action
	selectedActions := G.NewMatrix(
		gTrain,
		tensor.Float64,
		G.WithName("actionSelected"),
		G.WithShape(batchSize, numActions),
	)
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction()[0],
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Compute the mean squared TD error
	losses := G.Must(G.Sub(updateTarget, selectedActionsValue))
	losses = G.Must(G.Square(losses))
	cost := G.Must(G.Mean(losses))

	replay, err := config.Replay.Create(numFeatures)
	if err != nil {
		return nil, fmt.Errorf("new: could not create experience replay "+
			"buffer: %v", err)
	}

	d := &DeepQ{
		behaviour:             behaviour,
		trainNet:              trainNet,
		solver:                config.Solver,
		targetNet:             targetNet,
		targetNetVM:           targetNetVM,
		tau:                   config.Tau,
		targetUpdateInterval:  config.TargetUpdateInterval,
		updateInterval:        config.UpdateInterval,
		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		discounts:             discounts,
		selectedActions:       selectedActions,
		replay:                replay,
		numActions:            numActions,
		batchSize:             batchSize,
		logger:                zap.NewNop(),
	}

	// Track the loss for divergence checks
	G.Read(cost, &d.lossVal)

	if _, err := G.Grad(cost, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}

	// Compile the training graph into a VM
	d.trainNetVM = G.NewTapeMachine(
		gTrain,
		G.BindDualValues(trainNet.Learnables()...),
	)

	return d, nil
}

// SetLogger sets the structured logger the agent reports training
// diagnostics to
func (d *DeepQ) SetLogger(logger *zap.Logger) {
	d.logger = logger
}

// ObserveFirst observes and records the first episodic timestep
func (d *DeepQ) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep %v is not the first of "+
			"its episode", t.Number)
	}
	d.prevStep = t
	return nil
}

// Observe records that action taken at the last observed state led to
// nextStep, storing the resulting transition in the replay buffer.
// Evaluation transitions never enter the replay buffer.
func (d *DeepQ) Observe(action int, nextStep ts.TimeStep) error {
	if d.eval {
		d.prevStep = nextStep
		return nil
	}

	transition := ts.NewTransition(d.prevStep, action, nextStep)
	if err := d.replay.Add(transition); err != nil {
		return fmt.Errorf("observe: could not add transition: %v", err)
	}

	d.prevStep = nextStep
	return nil
}

// Step updates the weights of the agent's networks by gradient
// descent on the mean squared TD error of a sampled batch. The update
// runs once every UpdateInterval collect steps and is skipped until
// the replay buffer holds its minimum number of transitions. In
// evaluation mode learning is disabled entirely.
func (d *DeepQ) Step() error {
	if d.eval {
		return nil
	}

	d.collectSteps++
	if d.collectSteps%d.updateInterval != 0 {
		return nil
	}

	S, A, R, discount, NextS, err := d.replay.Sample()
	if expreplay.IsEmptyBuffer(err) || expreplay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("step: could not sample: %v", err)
	}

	// One-hot encode the actions taken at each sampled state
	selected := make([]float64, d.batchSize*d.numActions)
	for i, a := range A {
		selected[i*d.numActions+a] = 1.0
	}
	prevActions := tensor.New(
		tensor.WithShape(d.batchSize, d.numActions),
		tensor.WithBacking(selected),
	)
	if err := G.Let(d.selectedActions, prevActions); err != nil {
		return fmt.Errorf("step: could not set selected actions: %v", err)
	}

	// Predict the action values at the next states with the frozen
	// target network
	if err := d.targetNet.SetInput(NextS); err != nil {
		return fmt.Errorf("step: could not set target net input: %v", err)
	}
	if err := d.targetNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target network: %v", err)
	}
	if err := G.Let(d.nextStateActionValues,
		d.targetNet.Output()[0]); err != nil {
		return fmt.Errorf("step: could not set next state-action values: %v",
			err)
	}
	d.targetNetVM.Reset()

	rewardTensor := tensor.New(tensor.WithBacking(R),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.rewards, rewardTensor); err != nil {
		return fmt.Errorf("step: could not set rewards: %v", err)
	}

	discountTensor := tensor.New(tensor.WithBacking(discount),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.discounts, discountTensor); err != nil {
		return fmt.Errorf("step: could not set discounts: %v", err)
	}

	// Run the learning step
	if err := d.trainNet.SetInput(S); err != nil {
		return fmt.Errorf("step: could not set trainNet input: %v", err)
	}
	if err := d.trainNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run training network: %v", err)
	}

	loss := network.ScalarValue(d.lossVal)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return &agent.DivergenceError{
			Agent: "deepq",
			Loss:  loss,
			Step:  d.gradientSteps,
		}
	}

	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		return fmt.Errorf("step: could not step solver: %v", err)
	}
	d.trainNetVM.Reset()
	d.gradientSteps++

	d.logger.Debug("deepq update",
		zap.Int("gradientStep", d.gradientSteps),
		zap.Float64("loss", loss),
		zap.Float64("epsilon", d.behaviour.Epsilon()),
	)

	// Update the target network by moving its weights toward the
	// newly learned weights
	if d.gradientSteps%d.targetUpdateInterval == 0 {
		if d.tau == 1.0 {
			if err := d.targetNet.Set(d.trainNet); err != nil {
				return fmt.Errorf("step: could not sync target network: %v",
					err)
			}
		} else {
			if err := d.targetNet.Polyak(d.trainNet, d.tau); err != nil {
				return fmt.Errorf("step: could not sync target network: %v",
					err)
			}
		}
	}

	// The behaviour policy always follows the learned weights
	if err := d.behaviour.Network().Set(d.trainNet); err != nil {
		return fmt.Errorf("step: could not sync behaviour policy: %v", err)
	}

	return nil
}

// SelectAction returns an action selected by the behaviour policy. In
// evaluation mode the selection is greedy.
func (d *DeepQ) SelectAction(t ts.TimeStep) (int, error) {
	return d.behaviour.SelectAction(t)
}

// TrainNet returns the network whose weights the agent adapts
func (d *DeepQ) TrainNet() network.NeuralNet {
	return d.trainNet
}

// Eval sets the agent into evaluation mode
func (d *DeepQ) Eval() {
	d.eval = true
	d.behaviour.Eval()
}

// Train sets the agent into training mode
func (d *DeepQ) Train() {
	d.eval = false
	d.behaviour.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (d *DeepQ) IsEval() bool { return d.eval }

// EndEpisode performs cleanup at the end of an episode
func (d *DeepQ) EndEpisode() error { return nil }

// Close cleans up the agent's virtual machines
func (d *DeepQ) Close() error {
	if err := d.behaviour.Close(); err != nil {
		return err
	}
	if err := d.targetNetVM.Close(); err != nil {
		return err
	}
	return d.trainNetVM.Close()
}
