package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// actorCriticMLP implements a two-headed multi-layered perceptron: a
// shared trunk of hidden layers feeding a policy head, which predicts
// one logit per discrete action, and a value head, which predicts the
// scalar state value. Prediction()[0] is the logits node with shape
// (batch, actions) and Prediction()[1] is the value node with shape
// (batch, 1).
type actorCriticMLP struct {
	g          *G.ExprGraph
	trunk      []Layer
	policyHead Layer
	valueHead  Layer
	input      *G.Node
	numActions int
	numInputs  int
	batchSize  int

	// Data needed for gobbing
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	logits    *G.Node
	logitsVal G.Value
	value     *G.Node
	valueVal  G.Value
}

// NewActorCriticMLP creates and returns a new two-headed perceptron
// predicting both action logits and state values from a shared trunk.
// The trunk layout follows the same conventions as NewMultiHeadMLP:
// hiddenSizes[i], biases[i], and activations[i] describe trunk layer
// i. Both heads are linear layers with bias units.
func NewActorCriticMLP(features, batch, actions int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newactorcriticmlp: at least one trunk " +
			"layer required")
	}
	if len(hiddenSizes) != len(activations) {
		msg := "newactorcriticmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newactorcriticmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	trunk := addLayers(g, hiddenSizes, biases, activations, init, features,
		"", "Trunk")

	trunkSize := hiddenSizes[len(hiddenSizes)-1]
	policyHead := addLayers(g, []int{actions}, []bool{true},
		[]*Activation{Identity()}, init, trunkSize, "", "Policy")[0]
	valueHead := addLayers(g, []int{1}, []bool{true},
		[]*Activation{Identity()}, init, trunkSize, "", "Value")[0]

	network := actorCriticMLP{
		g:           g,
		trunk:       trunk,
		policyHead:  policyHead,
		valueHead:   valueHead,
		input:       input,
		numActions:  actions,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newactorcriticmlp: could not compute "+
			"forward pass: %v", err)
	}

	return &network, nil
}

// Graph returns the computational graph of the actorCriticMLP
func (a *actorCriticMLP) Graph() *G.ExprGraph {
	return a.g
}

// Clone clones an actorCriticMLP
func (a *actorCriticMLP) Clone() (NeuralNet, error) {
	return a.CloneWithBatch(a.batchSize)
}

// CloneWithBatch clones an actorCriticMLP with a new input batch size
func (a *actorCriticMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, a.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	trunk := make([]Layer, len(a.trunk))
	for i := range a.trunk {
		trunk[i] = a.trunk[i].CloneTo(graph)
	}

	network := actorCriticMLP{
		g:           graph,
		trunk:       trunk,
		policyHead:  a.policyHead.CloneTo(graph),
		valueHead:   a.valueHead.CloneTo(graph),
		input:       input,
		numActions:  a.numActions,
		numInputs:   a.numInputs,
		batchSize:   batchSize,
		hiddenSizes: a.hiddenSizes,
		biases:      a.biases,
		activations: a.activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return &network, nil
}

// BatchSize returns the batch size of inputs to the network
func (a *actorCriticMLP) BatchSize() int {
	return a.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input.
func (a *actorCriticMLP) Features() int {
	return a.numInputs
}

// Outputs returns the number of action logits the policy head predicts
func (a *actorCriticMLP) Outputs() int {
	return a.numActions
}

// SetInput sets the value of the input node before running the forward
// pass.
func (a *actorCriticMLP) SetInput(input []float64) error {
	if len(input) != a.numInputs*a.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", a.numInputs*a.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(a.input.Shape()...),
	)
	return G.Let(a.input, inputTensor)
}

// Set sets the weights of an actorCriticMLP to be equal to the
// weights of another NeuralNet
func (a *actorCriticMLP) Set(source NeuralNet) error {
	return setWeights(a, source)
}

// Polyak sets the weights of an actorCriticMLP to be a polyak average
// between its existing weights and the weights of another NeuralNet
func (a *actorCriticMLP) Polyak(source NeuralNet, tau float64) error {
	return polyak(a, source, tau)
}

// Learnables returns the learnable nodes in an actorCriticMLP
func (a *actorCriticMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if a.learnables == nil {
		a.learnables = learnablesOf(a.allLayers())
	}
	return a.learnables
}

// Model returns the learnable nodes with their gradients
func (a *actorCriticMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if a.model == nil {
		a.model = modelOf(a.Learnables())
	}
	return a.model
}

func (a *actorCriticMLP) allLayers() []Layer {
	layers := make([]Layer, 0, len(a.trunk)+2)
	layers = append(layers, a.trunk...)
	return append(layers, a.policyHead, a.valueHead)
}

// fwd performs the forward pass of the actorCriticMLP on the input
// node, branching the trunk output into both heads
func (a *actorCriticMLP) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range a.trunk {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"trunk layer %v: %v", i, err)
		}
	}

	if a.logits, err = a.policyHead.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute policy head: %v", err)
	}
	if a.value, err = a.valueHead.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute value head: %v", err)
	}

	G.Read(a.logits, &a.logitsVal)
	G.Read(a.value, &a.valueVal)

	return nil
}

// Output returns the logits and state values computed by the last run
func (a *actorCriticMLP) Output() []G.Value {
	return []G.Value{a.logitsVal, a.valueVal}
}

// Prediction returns the logits node and the state value node
func (a *actorCriticMLP) Prediction() []*G.Node {
	return []*G.Node{a.logits, a.value}
}

// GobEncode implements the gob.GobEncoder interface
func (a *actorCriticMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(a.numActions); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of actions")
	}
	if err := enc.Encode(a.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}
	if err := enc.Encode(a.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}
	if err := enc.Encode(a.hiddenSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}
	if err := enc.Encode(a.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases")
	}
	if err := enc.Encode(a.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}

	for i, layer := range a.allLayers() {
		if err := enc.Encode(layer); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer %v: %v",
				i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (a *actorCriticMLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numActions int
	if err := dec.Decode(&numActions); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of actions")
	}

	var numInputs int
	if err := dec.Decode(&numInputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}

	var batchSize int
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}

	var hiddenSizes []int
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var biases []bool
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases")
	}

	var activations []*Activation
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	g := G.NewGraph()
	newNet, err := NewActorCriticMLP(numInputs, batchSize, numActions, g,
		hiddenSizes, biases, G.Zeroes(), activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new network: %v",
			err)
	}
	newMLP := newNet.(*actorCriticMLP)

	for i, layer := range newMLP.allLayers() {
		if err := dec.Decode(layer); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v", i,
				err)
		}
	}

	*a = *newMLP
	return nil
}
