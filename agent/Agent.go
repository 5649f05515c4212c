// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"
	"sfneuman.com/gooption/network"
	"sfneuman.com/gooption/timestep"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy chooses which actions
// are taken, and the Learner uses these actions to update the Policy.
type Agent interface {
	Learner
	Policy
}

// A Closer is an agent that must be closed after it is done learning
type Closer interface {
	Agent
	Close() error
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Step performs a single update to the learner
	Step() error

	// Observe records that an action lead to some timestep
	Observe(action mat.Vector, nextObs timestep.TimeStep) error

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions. Agents usually have a
// target and behaviour policy. For a given agent, the Policy and
// Learner should have pointers to the same weights so that any changes
// the learner makes to the weights are reflected in the actions the
// Policy chooses
type Policy interface {
	SelectAction(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// OptionNNPolicy implements a policy over options together with the
// intra-option policies of each option, using neural network function
// approximation.
//
// An OptionNNPolicy does not hold which option is currently executing.
// That state lives in the caller, which asks the policy for a new
// option when the previous one terminates, for termination decisions
// after each environment step, and for primitive actions of whichever
// option the caller considers active.
type OptionNNPolicy interface {
	// SelectOption chooses an option ε-greedily with respect to the
	// learned option values
	SelectOption(t timestep.TimeStep) int

	// PredictTermination samples whether the given option terminates
	// in the state of t and returns the greedy option for that state
	PredictTermination(t timestep.TimeStep, option int) (terminated bool,
		greedyOption int)

	// Act samples a primitive action from the given option's policy,
	// returning the action along with its log probability and the
	// entropy of the option's action distribution
	Act(t timestep.TimeStep, option int) (action *mat.VecDense, logProb,
		entropy float64)

	// Epsilon returns the current exploration rate. Reading the rate
	// never mutates the schedule; the driver advances it explicitly
	// with AdvanceStep once per interaction step.
	Epsilon() float64

	// AdvanceStep advances the exploration schedule by one step. It is
	// a no-op in evaluation mode.
	AdvanceStep()

	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode

	// Network returns the network that parametrizes the policy
	Network() network.NeuralNet

	Close() error
}
