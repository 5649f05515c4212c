// Package optioncritic implements the option-critic architecture,
// which jointly learns a set of options, the policy over them, and
// per-option termination functions.
//
// The agent maintains one set of live weights replicated across a few
// structurally identical networks: a behaviour network used for
// interaction, a single-sample actor training network whose graph
// carries the termination and policy-gradient loss, a minibatch critic
// training network whose graph carries the clipped TD loss, and
// prediction networks that compute the quantities both losses consume
// as plain numbers. Values that must not receive gradients, such as
// bootstrap targets and the advantages scaling the actor loss, are
// computed with the prediction networks outside any training graph and
// fed into the training graphs as inputs. Target networks provide the
// next-state option values for bootstrap targets and are synchronized
// with the live weights on a slower cadence.
package optioncritic

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"sfneuman.com/gooption/agent"
	"sfneuman.com/gooption/agent/nonlinear/discrete/policy"
	env "sfneuman.com/gooption/environment"
	"sfneuman.com/gooption/expreplay"
	"sfneuman.com/gooption/network"
	ts "sfneuman.com/gooption/timestep"
)

// OptionCritic implements the option-critic agent
type OptionCritic struct {
	// Policy over options for interacting with the environment
	behaviour    agent.OptionNNPolicy
	behaviourNet *network.OptionCriticNet

	// Single-sample network whose graph carries the actor loss
	actorNet    *network.OptionCriticNet
	actorVM     G.VM
	actorSolver G.Solver

	// Input nodes of the actor loss
	actorOption    *G.Node   // One-hot executing option, shape (1, options)
	actorOptionOn  []*G.Node // Scalar one-hot entry per option
	actorAction    *G.Node   // One-hot taken action, shape (1, actions)
	terminationAdv *G.Node   // Q(s)[o] - max Q(s) + termination regularizer
	negAdvantage   *G.Node   // -(target - Q(s)[o])
	actorLoss      G.Value

	// Minibatch network whose graph carries the critic loss
	criticNet    *network.OptionCriticNet
	criticVM     G.VM
	criticSolver G.Solver

	// Input nodes of the critic loss
	criticOptions *G.Node // One-hot sampled options, shape (batch, options)
	criticTargets *G.Node // Bootstrap targets, shape (batch)
	criticLoss    G.Value

	// Live prediction networks computing detached quantities
	liveNet      *network.OptionCriticNet // Single sample
	liveVM       G.VM
	liveBatchNet *network.OptionCriticNet // Minibatch
	liveBatchVM  G.VM

	// Target networks providing bootstrap option values
	targetNet      *network.OptionCriticNet // Single sample
	targetVM       G.VM
	targetBatchNet *network.OptionCriticNet // Minibatch
	targetBatchVM  G.VM

	replay expreplay.ExperienceReplayer

	gamma          float64
	terminationReg float64

	updateInterval       int
	tau                  float64
	targetUpdateInterval int

	numOptions int
	numActions int
	batchSize  int

	// Option selection state machine. The machine is in its selecting
	// state when optionTerminated is true, in which case a new option
	// is chosen ε-greedily before the next action.
	currentOption    int
	optionTerminated bool

	// Most recent transition for the actor update
	prevStep       ts.TimeStep
	nextStep       ts.TimeStep
	lastTransition ts.Transition
	haveTransition bool

	envSteps int
	eval     bool
}

// New creates and returns a new OptionCritic agent
func New(e env.Environment, config Config, seed uint64) (*OptionCritic,
	error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	g := G.NewGraph()
	behaviour, err := policy.NewEGreedyOptionPolicy(
		e,
		config.Channels,
		config.Rows,
		config.Cols,
		config.NumOptions,
		g,
		config.Filters,
		config.Kernels,
		config.Strides,
		config.HiddenSize,
		config.InitWFn.InitWFn(),
		config.EpsStart,
		config.EpsMin,
		config.EpsDecay,
		config.EpsTest,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour policy: %v",
			err)
	}
	behaviourNet := behaviour.Network().(*network.OptionCriticNet)

	batchSize := config.BatchSize()

	// Training networks. All networks start with the behaviour
	// network's weights and are kept synchronized after every gradient
	// step.
	actorClone, err := behaviourNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not create actor network: %v", err)
	}
	actorNet := actorClone.(*network.OptionCriticNet)

	criticClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create critic network: %v",
			err)
	}
	criticNet := criticClone.(*network.OptionCriticNet)

	// Live prediction networks for detached quantities
	liveClone, err := behaviourNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not create prediction network: %v",
			err)
	}
	liveNet := liveClone.(*network.OptionCriticNet)

	liveBatchClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create prediction network: %v",
			err)
	}
	liveBatchNet := liveBatchClone.(*network.OptionCriticNet)

	// Target networks
	targetClone, err := behaviourNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	targetNet := targetClone.(*network.OptionCriticNet)

	targetBatchClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	targetBatchNet := targetBatchClone.(*network.OptionCriticNet)

	replay, err := config.ExpReplay.Create(config.Features(), int64(seed))
	if err != nil {
		return nil, fmt.Errorf("new: could not create experience replay "+
			"buffer: %v", err)
	}

	oc := &OptionCritic{
		behaviour:    behaviour,
		behaviourNet: behaviourNet,

		actorNet:    actorNet,
		actorSolver: config.ActorSolver,

		criticNet:    criticNet,
		criticSolver: config.CriticSolver,

		liveNet:        liveNet,
		liveVM:         G.NewTapeMachine(liveNet.Graph()),
		liveBatchNet:   liveBatchNet,
		liveBatchVM:    G.NewTapeMachine(liveBatchNet.Graph()),
		targetNet:      targetNet,
		targetVM:       G.NewTapeMachine(targetNet.Graph()),
		targetBatchNet: targetBatchNet,
		targetBatchVM:  G.NewTapeMachine(targetBatchNet.Graph()),

		replay: replay,

		gamma:          config.Gamma,
		terminationReg: config.TerminationReg,

		updateInterval:       config.UpdateInterval,
		tau:                  config.Tau,
		targetUpdateInterval: config.TargetUpdateInterval,

		numOptions: config.NumOptions,
		numActions: behaviourNet.NumActions(),
		batchSize:  batchSize,

		currentOption:    0,
		optionTerminated: true,
	}

	if err := oc.buildActorGraph(config.EntropyReg); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := oc.buildCriticGraph(config.ClipDelta); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return oc, nil
}

// ObserveFirst observes and records the first episodic timestep
func (o *OptionCritic) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)", t.Number)
	}

	// A new option must be selected at the start of each episode
	o.optionTerminated = true
	o.haveTransition = false
	o.prevStep = ts.TimeStep{}
	o.nextStep = t

	return nil
}

// SelectAction returns an action selected by the intra-option policy
// of the executing option, selecting a new option first if the
// previous one terminated.
func (o *OptionCritic) SelectAction(t ts.TimeStep) *mat.VecDense {
	if o.optionTerminated {
		o.currentOption = o.behaviour.SelectOption(t)
		o.optionTerminated = false
	}

	action, _, _ := o.behaviour.Act(t, o.currentOption)

	// The exploration schedule advances once per interaction step and
	// is frozen in evaluation mode
	o.behaviour.AdvanceStep()

	return action
}

// Observe observes and records any timestep other than the first
// timestep, and samples whether the executing option terminates in the
// new state.
func (o *OptionCritic) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != 1 {
		fmt.Fprintf(os.Stderr, "Warning: option-critic actions should not "+
			"be multi-dimensional (action dim = %d)", action.Len())
	}

	transition := ts.NewTransition(o.nextStep, o.currentOption,
		int(action.AtVec(0)), nextStep)

	if !o.eval {
		if err := o.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: could not store transition: %v", err)
		}
		o.lastTransition = transition
		o.haveTransition = true
	}

	o.prevStep = o.nextStep
	o.nextStep = nextStep

	// Decide whether the executing option stops in the new state
	if nextStep.Last() {
		o.optionTerminated = true
	} else {
		terminated, _ := o.behaviour.PredictTermination(nextStep,
			o.currentOption)
		o.optionTerminated = terminated
	}

	return nil
}

// Step updates the weights of the agent's networks. The actor updates
// on the most recent transition every environment step, the critic on
// a sampled minibatch every UpdateInterval steps, and the target
// networks synchronize with the live weights every
// TargetUpdateInterval steps.
func (o *OptionCritic) Step() error {
	if o.eval {
		return nil
	}
	o.envSteps++

	// Don't update until the replay buffer has enough samples for a
	// critic minibatch
	if o.replay.Capacity() < o.replay.MinCapacity() {
		return nil
	}

	if o.haveTransition {
		if err := o.actorUpdate(); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}

	if o.envSteps%o.updateInterval == 0 {
		if err := o.criticUpdate(); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}

	if o.envSteps%o.targetUpdateInterval == 0 {
		if err := o.syncTargets(); err != nil {
			return fmt.Errorf("step: could not update target networks: %v",
				err)
		}
	}

	return nil
}

// EndEpisode performs cleanup at the end of an episode
func (o *OptionCritic) EndEpisode() {}

// Eval sets the agent into evaluation mode
func (o *OptionCritic) Eval() {
	o.eval = true
	o.behaviour.Eval()
}

// Train sets the agent into training mode
func (o *OptionCritic) Train() {
	o.eval = false
	o.behaviour.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (o *OptionCritic) IsEval() bool {
	return o.eval
}

// Close cleans up the agent's resources
func (o *OptionCritic) Close() error {
	for _, vm := range []G.VM{o.actorVM, o.criticVM, o.liveVM,
		o.liveBatchVM, o.targetVM, o.targetBatchVM} {
		if err := vm.Close(); err != nil {
			return err
		}
	}
	return o.behaviour.Close()
}

// ActorLoss returns the loss of the last actor update
func (o *OptionCritic) ActorLoss() float64 {
	if o.actorLoss == nil {
		return 0.0
	}
	return o.actorLoss.Data().(float64)
}

// CriticLoss returns the loss of the last critic update
func (o *OptionCritic) CriticLoss() float64 {
	if o.criticLoss == nil {
		return 0.0
	}
	return o.criticLoss.Data().(float64)
}

// syncLive copies the weights of src into every other network holding
// live weights
func (o *OptionCritic) syncLive(src *network.OptionCriticNet) error {
	dests := []*network.OptionCriticNet{o.behaviourNet, o.actorNet,
		o.criticNet, o.liveNet, o.liveBatchNet}
	for _, dest := range dests {
		if dest == src {
			continue
		}
		if err := dest.Set(src); err != nil {
			return fmt.Errorf("synclive: could not copy weights: %v", err)
		}
	}
	return nil
}

// syncTargets updates the target networks toward the live weights
func (o *OptionCritic) syncTargets() error {
	for _, target := range []*network.OptionCriticNet{o.targetNet,
		o.targetBatchNet} {
		var err error
		if o.tau == 1.0 {
			err = target.Set(o.actorNet)
		} else {
			err = target.Polyak(o.actorNet, o.tau)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// predictLive predicts the option values and termination probabilities
// of the live model in a single state, outside any training graph
func (o *OptionCritic) predictLive(obs mat.Vector) ([]float64, []float64) {
	return runPrediction(o.liveNet, o.liveVM, obsData(obs))
}

// predictTarget predicts the option values of the target model in a
// single state
func (o *OptionCritic) predictTarget(obs mat.Vector) []float64 {
	q, _ := runPrediction(o.targetNet, o.targetVM, obsData(obs))
	return q
}

// predictLiveBatch predicts the termination probabilities of the live
// model for a minibatch of states
func (o *OptionCritic) predictLiveBatch(obs []float64) []float64 {
	_, terminations := runPrediction(o.liveBatchNet, o.liveBatchVM, obs)
	return terminations
}

// predictTargetBatch predicts the option values of the target model
// for a minibatch of states
func (o *OptionCritic) predictTargetBatch(obs []float64) []float64 {
	q, _ := runPrediction(o.targetBatchNet, o.targetBatchVM, obs)
	return q
}

// runPrediction runs the forward pass of a prediction network and
// returns copies of the predicted option values and termination
// probabilities
func runPrediction(net *network.OptionCriticNet, vm G.VM,
	obs []float64) ([]float64, []float64) {
	if err := net.SetInput(obs); err != nil {
		panic(fmt.Sprintf("runprediction: could not set input: %v", err))
	}
	if err := vm.RunAll(); err != nil {
		panic(fmt.Sprintf("runprediction: could not run network: %v", err))
	}

	q := copyData(net.QVal())
	terminations := copyData(net.TerminationsVal())

	vm.Reset()
	return q, terminations
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

// Interface satisfaction
var _ agent.Closer = (*OptionCritic)(nil)
