package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"sfneuman.com/gooption/utils/intutils"
)

// OptionCriticNet implements the neural network architecture of the
// option-critic: a shared convolutional torso over image observations
// followed by three heads. The Q head predicts one option value per
// option, the termination head predicts one termination probability
// per option, and the policy bank holds one linear softmax policy per
// option over the primitive actions.
//
// Observations are single-channel or multi-channel images given to
// SetInput flattened in (channel, row, col) order, one observation
// after another along the batch dimension.
//
// The policy bank is only wired into the forward pass when the batch
// size is 1. Minibatch clones of the network predict option values and
// termination probabilities only, which is all the critic update
// needs. The heads' weights are created on every clone regardless of
// batch size so that the learnable weights of any two clones always
// line up index-for-index, which Set and Polyak rely on.
type OptionCriticNet struct {
	g *G.ExprGraph

	channels, rows, cols int
	batchSize            int
	numOptions           int
	numActions           int
	hiddenSize           int

	conv     []Layer
	torso    Layer
	qHead    Layer
	termHead Layer
	policies []Layer

	input *G.Node

	state        *G.Node
	q            *G.Node
	terminations *G.Node
	optionLogits []*G.Node
	policyLogits *G.Node

	stateVal  G.Value
	qVal      G.Value
	termVal   G.Value
	policyVal G.Value

	learnables G.Nodes
	model      []G.ValueGrad

	criticLearnables G.Nodes
	criticModel      []G.ValueGrad
	actorLearnables  G.Nodes
	actorModel       []G.ValueGrad
}

// NewOptionCriticNet returns a new OptionCriticNet operating on images
// of the given size. The convolutional torso has len(filters) layers,
// where layer i has filters[i] square kernels of size kernels[i]
// applied at stride strides[i] with no padding, followed by a fully
// connected layer of hiddenSize units. All torso layers use ReLU
// activations. The parameter init determines the weight initialization
// scheme of the torso and of the Q and termination heads. The policy
// bank starts with zero weights so that each option's initial policy
// is uniform over the actions.
func NewOptionCriticNet(channels, rows, cols, batch, numOptions,
	numActions int, g *G.ExprGraph, filters, kernels, strides []int,
	hiddenSize int, init G.InitWFn) (*OptionCriticNet, error) {
	if channels < 1 || rows < 1 || cols < 1 {
		return nil, fmt.Errorf("newoptioncriticnet: observation dimensions "+
			"must be positive \n\thave(%v x %v x %v)", channels, rows, cols)
	}
	if batch < 1 {
		return nil, fmt.Errorf("newoptioncriticnet: batch size must be "+
			"positive \n\thave(%v)", batch)
	}
	if numOptions < 1 {
		return nil, fmt.Errorf("newoptioncriticnet: must have at least 1 "+
			"option \n\thave(%v)", numOptions)
	}
	if numActions < 1 {
		return nil, fmt.Errorf("newoptioncriticnet: must have at least 1 "+
			"action \n\thave(%v)", numActions)
	}
	if hiddenSize < 1 {
		return nil, fmt.Errorf("newoptioncriticnet: hidden size must be "+
			"positive \n\thave(%v)", hiddenSize)
	}
	if len(filters) != len(kernels) {
		return nil, fmt.Errorf("newoptioncriticnet: invalid number of "+
			"kernel sizes \n\twant(%v) \n\thave(%v)", len(filters),
			len(kernels))
	}
	if len(filters) != len(strides) {
		return nil, fmt.Errorf("newoptioncriticnet: invalid number of "+
			"strides \n\twant(%v) \n\thave(%v)", len(filters), len(strides))
	}

	// Construct the convolutional torso, tracking the spatial size of
	// the image as it shrinks through the layers
	conv := make([]Layer, len(filters))
	outRows, outCols, outChannels := rows, cols, channels
	for i := range filters {
		if kernels[i] < 1 || strides[i] < 1 {
			return nil, fmt.Errorf("newoptioncriticnet: kernel sizes and "+
				"strides must be positive \n\thave(kernel %v, stride %v)",
				kernels[i], strides[i])
		}
		if kernels[i] > outRows || kernels[i] > outCols {
			return nil, fmt.Errorf("newoptioncriticnet: kernel of layer %v "+
				"exceeds its input image \n\twant(<= %v x %v) \n\thave(%v)",
				i, outRows, outCols, kernels[i])
		}

		conv[i] = newConvLayer(g, outChannels, filters[i], kernels[i],
			strides[i], init, G.Zeroes(), ReLU(),
			fmt.Sprintf("Conv%d", i))

		outRows = convOutSize(outRows, kernels[i], strides[i])
		outCols = convOutSize(outCols, kernels[i], strides[i])
		outChannels = filters[i]
	}
	flatFeatures := outChannels * outRows * outCols

	torso := newFCLayer(g, flatFeatures, hiddenSize, init, G.Zeroes(),
		ReLU(), "Torso")
	qHead := newFCLayer(g, hiddenSize, numOptions, init, G.Zeroes(),
		Identity(), "Q")
	termHead := newFCLayer(g, hiddenSize, numOptions, init, G.Zeroes(),
		Sigmoid(), "Termination")

	policies := make([]Layer, numOptions)
	for o := range policies {
		policies[o] = newFCLayer(g, hiddenSize, numActions, G.Zeroes(),
			G.Zeroes(), Nil(), fmt.Sprintf("Policy%d", o))
	}

	input := G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(batch, channels, rows, cols),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	net := &OptionCriticNet{
		g:          g,
		channels:   channels,
		rows:       rows,
		cols:       cols,
		batchSize:  batch,
		numOptions: numOptions,
		numActions: numActions,
		hiddenSize: hiddenSize,
		conv:       conv,
		torso:      torso,
		qHead:      qHead,
		termHead:   termHead,
		policies:   policies,
		input:      input,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newoptioncriticnet: could not compute "+
			"forward pass: %v", err)
	}

	return net, nil
}

// fwd adds the forward pass of the OptionCriticNet to the
// computational graph
func (o *OptionCriticNet) fwd(input *G.Node) error {
	x := input
	var err error
	for i, l := range o.conv {
		if x, err = l.fwd(x); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"convolutional layer %v: %v", i, err)
		}
	}

	// Flatten the feature maps into one feature vector per sample
	shape := x.Shape()
	flat := intutils.Prod(shape[1:]...)
	if x, err = G.Reshape(x, tensor.Shape{o.batchSize, flat}); err != nil {
		return fmt.Errorf("fwd: could not flatten feature maps: %v", err)
	}

	if o.state, err = o.torso.fwd(x); err != nil {
		return fmt.Errorf("fwd: could not compute state features: %v", err)
	}
	if o.q, err = o.qHead.fwd(o.state); err != nil {
		return fmt.Errorf("fwd: could not compute option values: %v", err)
	}
	if o.terminations, err = o.termHead.fwd(o.state); err != nil {
		return fmt.Errorf("fwd: could not compute terminations: %v", err)
	}

	G.Read(o.state, &o.stateVal)
	G.Read(o.q, &o.qVal)
	G.Read(o.terminations, &o.termVal)

	if o.batchSize != 1 {
		return nil
	}

	// With a single input observation the per-option policy logits
	// stack into a (numOptions, numActions) matrix. The stacked node is
	// prediction-only: Concat of matmul outputs cannot be symbolically
	// differentiated in gorgonia, so gradient-carrying graphs must go
	// through the per-option nodes instead.
	logits := make([]*G.Node, o.numOptions)
	for i, policy := range o.policies {
		if logits[i], err = policy.fwd(o.state); err != nil {
			return fmt.Errorf("fwd: could not compute policy logits of "+
				"option %v: %v", i, err)
		}
	}
	o.optionLogits = logits
	if o.numOptions > 1 {
		o.policyLogits, err = G.Concat(0, logits...)
		if err != nil {
			return fmt.Errorf("fwd: could not stack policy logits: %v", err)
		}
	} else {
		o.policyLogits = logits[0]
	}
	G.Read(o.policyLogits, &o.policyVal)

	return nil
}

// Graph returns the computational graph of the OptionCriticNet
func (o *OptionCriticNet) Graph() *G.ExprGraph {
	return o.g
}

// BatchSize returns the number of observations the network predicts on
// at once
func (o *OptionCriticNet) BatchSize() int {
	return o.batchSize
}

// Features returns the number of features in a single input
// observation
func (o *OptionCriticNet) Features() int {
	return o.channels * o.rows * o.cols
}

// NumOptions returns the number of options the network predicts over
func (o *OptionCriticNet) NumOptions() int {
	return o.numOptions
}

// NumActions returns the number of actions available to each
// intra-option policy
func (o *OptionCriticNet) NumActions() int {
	return o.numActions
}

// Clone clones an OptionCriticNet
func (o *OptionCriticNet) Clone() (NeuralNet, error) {
	return o.CloneWithBatch(o.batchSize)
}

// CloneWithBatch clones an OptionCriticNet with a new input batch size
func (o *OptionCriticNet) CloneWithBatch(batchSize int) (NeuralNet, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("clonewithbatch: batch size must be "+
			"positive \n\thave(%v)", batchSize)
	}
	graph := G.NewGraph()

	input := G.NewTensor(
		graph,
		tensor.Float64,
		4,
		G.WithShape(batchSize, o.channels, o.rows, o.cols),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	conv := make([]Layer, len(o.conv))
	for i := range o.conv {
		conv[i] = o.conv[i].CloneTo(graph)
	}
	policies := make([]Layer, len(o.policies))
	for i := range o.policies {
		policies[i] = o.policies[i].CloneTo(graph)
	}

	net := &OptionCriticNet{
		g:          graph,
		channels:   o.channels,
		rows:       o.rows,
		cols:       o.cols,
		batchSize:  batchSize,
		numOptions: o.numOptions,
		numActions: o.numActions,
		hiddenSize: o.hiddenSize,
		conv:       conv,
		torso:      o.torso.CloneTo(graph),
		qHead:      o.qHead.CloneTo(graph),
		termHead:   o.termHead.CloneTo(graph),
		policies:   policies,
		input:      input,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return net, nil
}

// SetInput sets the value of the input node before running the forward
// pass. The input slice holds BatchSize() observations one after
// another, each flattened in (channel, row, col) order.
func (o *OptionCriticNet) SetInput(input []float64) error {
	if len(input) != o.Features()*o.batchSize {
		msg := fmt.Sprintf("invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", o.Features()*o.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(o.input.Shape()...),
	)
	return G.Let(o.input, inputTensor)
}

// Set sets the weights of an OptionCriticNet to be equal to the
// weights of another OptionCriticNet
func (dest *OptionCriticNet) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of an OptionCriticNet to be a polyak
// average between its existing weights and the weights of another
// OptionCriticNet
func (dest *OptionCriticNet) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		err = G.Let(nodes[i], newWeights)
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in an OptionCriticNet. The
// nodes are in the same order for every clone of the network.
func (o *OptionCriticNet) Learnables() G.Nodes {
	// Lazy instantiation
	if o.learnables == nil {
		layers := o.allLayers()
		o.learnables = make(G.Nodes, 0, 2*len(layers))
		for _, l := range layers {
			o.learnables = append(o.learnables, l.Weights())
			if bias := l.Bias(); bias != nil {
				o.learnables = append(o.learnables, bias)
			}
		}
	}
	return o.learnables
}

// Model returns the learnable nodes with their gradients
func (o *OptionCriticNet) Model() []G.ValueGrad {
	// Lazy instantiation
	if o.model == nil {
		o.model = nodesToValueGrads(o.Learnables())
	}
	return o.model
}

// CriticLearnables returns the learnable nodes that the critic loss
// reaches: the torso and the Q head
func (o *OptionCriticNet) CriticLearnables() G.Nodes {
	if o.criticLearnables == nil {
		layers := append([]Layer{}, o.conv...)
		layers = append(layers, o.torso, o.qHead)
		o.criticLearnables = layerLearnables(layers)
	}
	return o.criticLearnables
}

// CriticModel returns the critic learnable nodes with their gradients
func (o *OptionCriticNet) CriticModel() []G.ValueGrad {
	if o.criticModel == nil {
		o.criticModel = nodesToValueGrads(o.CriticLearnables())
	}
	return o.criticModel
}

// ActorLearnables returns the learnable nodes that the actor loss
// reaches: the torso, the termination head, and the policy bank
func (o *OptionCriticNet) ActorLearnables() G.Nodes {
	if o.actorLearnables == nil {
		layers := append([]Layer{}, o.conv...)
		layers = append(layers, o.torso, o.termHead)
		layers = append(layers, o.policies...)
		o.actorLearnables = layerLearnables(layers)
	}
	return o.actorLearnables
}

// ActorModel returns the actor learnable nodes with their gradients
func (o *OptionCriticNet) ActorModel() []G.ValueGrad {
	if o.actorModel == nil {
		o.actorModel = nodesToValueGrads(o.ActorLearnables())
	}
	return o.actorModel
}

// State returns the node holding the shared state features, with shape
// (BatchSize(), hidden size)
func (o *OptionCriticNet) State() *G.Node {
	return o.state
}

// Q returns the node holding the predicted option values, with shape
// (BatchSize(), NumOptions())
func (o *OptionCriticNet) Q() *G.Node {
	return o.q
}

// Terminations returns the node holding the predicted termination
// probabilities, with shape (BatchSize(), NumOptions())
func (o *OptionCriticNet) Terminations() *G.Node {
	return o.terminations
}

// PolicyLogits returns the node holding the policy bank logits, with
// shape (NumOptions(), NumActions()). It is nil unless BatchSize() is
// 1. The node is prediction-only and must not appear on a gradient
// path; use PolicyLogitsFor in training graphs.
func (o *OptionCriticNet) PolicyLogits() *G.Node {
	return o.policyLogits
}

// PolicyLogitsFor returns the node holding the policy logits of a
// single option, with shape (1, NumActions()). It is nil unless
// BatchSize() is 1.
func (o *OptionCriticNet) PolicyLogitsFor(option int) *G.Node {
	if o.optionLogits == nil {
		return nil
	}
	return o.optionLogits[option]
}

// QVal returns the option values computed by the last run of the
// network
func (o *OptionCriticNet) QVal() G.Value {
	return o.qVal
}

// TerminationsVal returns the termination probabilities computed by
// the last run of the network
func (o *OptionCriticNet) TerminationsVal() G.Value {
	return o.termVal
}

// PolicyLogitsVal returns the policy bank logits computed by the last
// run of the network. It is nil unless BatchSize() is 1.
func (o *OptionCriticNet) PolicyLogitsVal() G.Value {
	return o.policyVal
}

// Output returns the outputs computed by the last run of the network
func (o *OptionCriticNet) Output() []G.Value {
	if o.batchSize == 1 {
		return []G.Value{o.qVal, o.termVal, o.policyVal}
	}
	return []G.Value{o.qVal, o.termVal}
}

// Prediction returns the nodes of the computational graph that store
// the outputs of the network
func (o *OptionCriticNet) Prediction() []*G.Node {
	if o.batchSize == 1 {
		return []*G.Node{o.q, o.terminations, o.policyLogits}
	}
	return []*G.Node{o.q, o.terminations}
}

// allLayers returns every layer of the network in a fixed order
func (o *OptionCriticNet) allLayers() []Layer {
	layers := append([]Layer{}, o.conv...)
	layers = append(layers, o.torso, o.qHead, o.termHead)
	layers = append(layers, o.policies...)
	return layers
}

// layerLearnables gathers the weights and biases of a list of layers
func layerLearnables(layers []Layer) G.Nodes {
	learnables := make(G.Nodes, 0, 2*len(layers))
	for _, l := range layers {
		learnables = append(learnables, l.Weights())
		if bias := l.Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return learnables
}

// nodesToValueGrads converts learnable nodes to the []G.ValueGrad a
// solver steps over
func nodesToValueGrads(nodes G.Nodes) []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(nodes))
	for _, node := range nodes {
		model = append(model, node)
	}
	return model
}
