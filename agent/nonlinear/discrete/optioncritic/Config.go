package optioncritic

import (
	"fmt"

	"sfneuman.com/gooption/agent"
	env "sfneuman.com/gooption/environment"
	"sfneuman.com/gooption/expreplay"
	"sfneuman.com/gooption/initwfn"
	"sfneuman.com/gooption/solver"
)

// Config implements a configuration for an OptionCritic agent
type Config struct {
	// Observation image shape. Observations are given to the agent
	// flattened in (channel, row, col) order and must have
	// Channels * Rows * Cols features.
	Channels int
	Rows     int
	Cols     int

	// Network architecture. Filters, Kernels, and Strides configure
	// the convolutional torso layer by layer, HiddenSize the fully
	// connected layer between the torso and the heads.
	Filters    []int
	Kernels    []int
	Strides    []int
	HiddenSize int

	NumOptions int

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Solvers for the critic and actor updates. The two updates adapt
	// overlapping parameter subsets, so each needs its own solver
	// state.
	CriticSolver *solver.Solver
	ActorSolver  *solver.Solver

	// Exploration schedule for option selection
	EpsStart float64
	EpsMin   float64
	EpsDecay float64
	EpsTest  float64

	Gamma          float64 // Discount factor for bootstrap targets
	ClipDelta      float64 // TD error clipping threshold
	TerminationReg float64 // Margin biasing options toward running longer
	EntropyReg     float64 // Entropy bonus weight in the actor loss

	// Experience replay parameters
	ExpReplay expreplay.Config

	// Number of environment steps between critic updates. The actor
	// updates every step.
	UpdateInterval int

	// Target net updates
	Tau                  float64 // Polyak averaging constant
	TargetUpdateInterval int     // Steps between target network updates
}

// BatchSize returns the batch size of the agent constructed using this
// Config
func (c Config) BatchSize() int {
	return c.ExpReplay.SampleSize
}

// Features returns the number of features in an observation described
// by this Config
func (c Config) Features() int {
	return c.Channels * c.Rows * c.Cols
}

// Validate checks a Config to ensure it is a valid configuration of an
// OptionCritic agent.
func (c Config) Validate() error {
	if len(c.Filters) != len(c.Kernels) {
		return fmt.Errorf("new: invalid number of kernel sizes "+
			"\n\twant(%v)\n\thave(%v)", len(c.Filters), len(c.Kernels))
	}
	if len(c.Filters) != len(c.Strides) {
		return fmt.Errorf("new: invalid number of strides "+
			"\n\twant(%v)\n\thave(%v)", len(c.Filters), len(c.Strides))
	}
	if c.NumOptions < 1 {
		return fmt.Errorf("new: must have at least 1 option "+
			"\n\twant(>0)\n\thave(%v)", c.NumOptions)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("new: discount must be in [0, 1] \n\thave(%v)",
			c.Gamma)
	}
	if c.ClipDelta <= 0 {
		return fmt.Errorf("new: TD error clipping threshold must be "+
			"positive \n\twant(>0)\n\thave(%v)", c.ClipDelta)
	}
	if c.UpdateInterval < 1 {
		return fmt.Errorf("new: critic must be updated at positive "+
			"timestep intervals \n\twant(>0)\n\thave(%v)", c.UpdateInterval)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("new: target networks must be updated at positive "+
			"timestep intervals \n\twant(>0)\n\thave(%v)",
			c.TargetUpdateInterval)
	}
	if c.CriticSolver == nil || c.ActorSolver == nil {
		return fmt.Errorf("new: no solver provided")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("new: no weight initializer provided")
	}
	return nil
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*OptionCritic)
	return ok
}

// CreateAgent creates a new OptionCritic agent based on the
// configuration
func (c Config) CreateAgent(e env.Environment, seed uint64) (agent.Agent,
	error) {
	return New(e, c, seed)
}
