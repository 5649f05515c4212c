package timestep

import (
	"gonum.org/v1/gonum/mat"
)

// Transition packages together a single option transition: the state an
// option was executing in, the executing option, the primitive action
// it emitted, the resulting reward, the next state, and whether the
// next state ended the episode.
//
// Transitions are the unit of exchange with an experience replay
// buffer. A Transition holds references to its observation vectors, it
// does not copy them.
type Transition struct {
	State     mat.Vector
	Option    int
	Action    int
	Reward    float64
	NextState mat.Vector
	Done      bool
}

// NewTransition packages two sequential TimeSteps and the option and
// primitive action taken at the first of them into a Transition.
func NewTransition(step TimeStep, option, action int,
	nextStep TimeStep) Transition {
	return Transition{
		State:     step.Observation,
		Option:    option,
		Action:    action,
		Reward:    nextStep.Reward,
		NextState: nextStep.Observation,
		Done:      nextStep.Last(),
	}
}
