// Package policy implements policies using neural network function
// approximation
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"sfneuman.com/gooption/agent"
	"sfneuman.com/gooption/environment"
	"sfneuman.com/gooption/network"
	"sfneuman.com/gooption/timestep"
	"sfneuman.com/gooption/utils/floatutils"
)

// EGreedyOptionPolicy implements a policy over options that selects
// options ε-greedily with respect to learned option values, samples
// option terminations from learned termination probabilities, and
// samples primitive actions from the softmax policy of whichever
// option the caller reports as executing.
//
// The exploration rate ε follows an exponentially decaying schedule
//
//	ε = εMin + (εStart - εMin) * exp(-steps / εDecay)
//
// where steps advances only through explicit AdvanceStep calls in
// training mode. In evaluation mode ε is the constant εTest and
// AdvanceStep is a no-op, so evaluation never consumes the schedule.
type EGreedyOptionPolicy struct {
	net *network.OptionCriticNet
	vm  G.VM

	rng    *rand.Rand
	source rand.Source

	epsStart float64
	epsMin   float64
	epsDecay float64
	epsTest  float64
	steps    int

	eval bool
}

// NewEGreedyOptionPolicy returns a new EGreedyOptionPolicy for an
// environment with image observations of the given size. The
// parameters filters, kernels, strides, and hiddenSize configure the
// network torso, see network.NewOptionCriticNet.
func NewEGreedyOptionPolicy(env environment.Environment, channels, rows,
	cols, numOptions int, g *G.ExprGraph, filters, kernels, strides []int,
	hiddenSize int, init G.InitWFn, epsStart, epsMin, epsDecay,
	epsTest float64, seed uint64) (*EGreedyOptionPolicy, error) {
	// Ensure environment has discrete, 1-dimensional actions enumerated
	// from 0
	if env.ActionSpec().Cardinality != environment.Discrete {
		return nil, fmt.Errorf("newegreedyoptionpolicy: cannot use " +
			"non-discrete actions")
	}
	if env.ActionSpec().LowerBound.Len() > 1 {
		return nil, fmt.Errorf("newegreedyoptionpolicy: actions must be " +
			"1-dimensional")
	}
	if env.ActionSpec().LowerBound.AtVec(0) != 0.0 {
		return nil, fmt.Errorf("newegreedyoptionpolicy: actions must be " +
			"enumerated starting from 0")
	}
	if env.ObservationSpec().Shape.Len() != channels*rows*cols {
		return nil, fmt.Errorf("newegreedyoptionpolicy: invalid observation "+
			"size \n\twant(%v)\n\thave(%v)", channels*rows*cols,
			env.ObservationSpec().Shape.Len())
	}
	if epsDecay <= 0 {
		return nil, fmt.Errorf("newegreedyoptionpolicy: epsilon decay rate "+
			"must be positive \n\thave(%v)", epsDecay)
	}
	if epsMin > epsStart {
		return nil, fmt.Errorf("newegreedyoptionpolicy: minimum epsilon "+
			"cannot exceed starting epsilon \n\twant(<=%v)\n\thave(%v)",
			epsStart, epsMin)
	}

	numActions := int(env.ActionSpec().UpperBound.AtVec(0)) + 1
	net, err := network.NewOptionCriticNet(channels, rows, cols, 1,
		numOptions, numActions, g, filters, kernels, strides, hiddenSize,
		init)
	if err != nil {
		return nil, fmt.Errorf("newegreedyoptionpolicy: could not create "+
			"network: %v", err)
	}

	source := rand.NewSource(seed)

	return &EGreedyOptionPolicy{
		net:      net,
		vm:       G.NewTapeMachine(net.Graph()),
		rng:      rand.New(source),
		source:   source,
		epsStart: epsStart,
		epsMin:   epsMin,
		epsDecay: epsDecay,
		epsTest:  epsTest,
		steps:    0,
		eval:     false,
	}, nil
}

// FromNetwork returns an EGreedyOptionPolicy that selects options and
// actions using an existing network. The network must have a batch
// size of 1.
func FromNetwork(net *network.OptionCriticNet, epsStart, epsMin, epsDecay,
	epsTest float64, seed uint64) (*EGreedyOptionPolicy, error) {
	if net.BatchSize() != 1 {
		return nil, fmt.Errorf("fromnetwork: policy networks must have a "+
			"batch size of 1 \n\thave(%v)", net.BatchSize())
	}

	source := rand.NewSource(seed)

	return &EGreedyOptionPolicy{
		net:      net,
		vm:       G.NewTapeMachine(net.Graph()),
		rng:      rand.New(source),
		source:   source,
		epsStart: epsStart,
		epsMin:   epsMin,
		epsDecay: epsDecay,
		epsTest:  epsTest,
		steps:    0,
		eval:     false,
	}, nil
}

// SelectOption chooses an option ε-greedily with respect to the
// learned option values in the state of t.
func (e *EGreedyOptionPolicy) SelectOption(t timestep.TimeStep) int {
	if e.rng.Float64() < e.Epsilon() {
		return e.rng.Intn(e.net.NumOptions())
	}

	q, _, _ := e.run(t.Observation)
	return e.greedyOption(q)
}

// PredictTermination samples whether the given option terminates in
// the state of t from the option's termination probability, and
// independently computes the greedy option for that state.
func (e *EGreedyOptionPolicy) PredictTermination(t timestep.TimeStep,
	option int) (bool, int) {
	q, terminations, _ := e.run(t.Observation)

	bernoulli := distuv.Bernoulli{P: terminations[option], Src: e.source}
	terminated := bernoulli.Rand() == 1.0

	return terminated, e.greedyOption(q)
}

// Act samples a primitive action from the given option's softmax
// policy in the state of t. The sampled action is returned together
// with its log probability and the entropy of the option's action
// distribution.
func (e *EGreedyOptionPolicy) Act(t timestep.TimeStep,
	option int) (*mat.VecDense, float64, float64) {
	_, _, logits := e.run(t.Observation)

	numActions := e.net.NumActions()
	probs := softmax(logits[option*numActions : (option+1)*numActions])

	dist := distuv.NewCategorical(probs, e.source)
	action := int(dist.Rand())

	logProb := math.Log(probs[action])
	entropy := 0.0
	for _, p := range probs {
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}

	return mat.NewVecDense(1, []float64{float64(action)}), logProb, entropy
}

// Epsilon returns the current exploration rate. Reading the rate does
// not advance the schedule.
func (e *EGreedyOptionPolicy) Epsilon() float64 {
	if e.eval {
		return e.epsTest
	}
	decay := math.Exp(-float64(e.steps) / e.epsDecay)
	return e.epsMin + (e.epsStart-e.epsMin)*decay
}

// AdvanceStep advances the exploration schedule by one interaction
// step. The schedule is frozen in evaluation mode.
func (e *EGreedyOptionPolicy) AdvanceStep() {
	if e.eval {
		return
	}
	e.steps++
}

// Eval sets the policy into evaluation mode
func (e *EGreedyOptionPolicy) Eval() {
	e.eval = true
}

// Train sets the policy into training mode
func (e *EGreedyOptionPolicy) Train() {
	e.eval = false
}

// IsEval returns whether the policy is in evaluation mode
func (e *EGreedyOptionPolicy) IsEval() bool {
	return e.eval
}

// Network returns the network that parametrizes the policy
func (e *EGreedyOptionPolicy) Network() network.NeuralNet {
	return e.net
}

// Close cleans up the policy's resources
func (e *EGreedyOptionPolicy) Close() error {
	return e.vm.Close()
}

// run runs the forward pass of the policy network on an observation
// and returns copies of the predicted option values, termination
// probabilities, and policy bank logits
func (e *EGreedyOptionPolicy) run(obs mat.Vector) ([]float64, []float64,
	[]float64) {
	if err := e.net.SetInput(obsData(obs)); err != nil {
		panic(fmt.Sprintf("run: could not set policy input: %v", err))
	}
	if err := e.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("run: could not run policy network: %v", err))
	}

	q := copyData(e.net.QVal())
	terminations := copyData(e.net.TerminationsVal())
	logits := copyData(e.net.PolicyLogitsVal())

	e.vm.Reset()
	return q, terminations, logits
}

// greedyOption returns the option with the highest value, breaking
// ties randomly
func (e *EGreedyOptionPolicy) greedyOption(q []float64) int {
	_, indices := floatutils.MaxSlice(q)
	return indices[e.rng.Intn(len(indices))]
}

// copyData copies the backing data of a Gorgonia value
func copyData(v G.Value) []float64 {
	data := v.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

// obsData returns the backing data of an observation vector
func obsData(v mat.Vector) []float64 {
	if dense, ok := v.(*mat.VecDense); ok {
		return dense.RawVector().Data
	}
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return data
}

// softmax returns the softmax distribution of a slice of logits
func softmax(logits []float64) []float64 {
	max := floatutils.Max(logits...)

	probs := make([]float64, len(logits))
	sum := 0.0
	for i, logit := range logits {
		probs[i] = math.Exp(logit - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Interface satisfaction
var _ agent.OptionNNPolicy = (*EGreedyOptionPolicy)(nil)
