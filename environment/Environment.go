// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"
	"sfneuman.com/gooption/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Environment implements a simulated environment. An Environment
// starts ready to use and is reset between episodes with Reset().
// Step() takes a single action and returns the next TimeStep together
// with whether that step was the last in the episode.
type Environment interface {
	Reset() timestep.TimeStep
	Step(action mat.Vector) (timestep.TimeStep, bool)
	RewardSpec() Spec
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
