// Package catcher implements a small pixel-observation environment in
// which a paddle on the bottom row must catch pellets falling from the
// top of the screen.
//
// Observations are single-channel binary images of the screen,
// flattened row-major into a vector. Cells containing the pellet or
// the paddle hold 1.0, all other cells hold 0.0. Three actions are
// available: move the paddle left, stay, or move right. When a pellet
// reaches the bottom row, the agent receives +1 if the paddle is under
// it and -1 otherwise, and a new pellet spawns in a uniformly random
// column of the top row. Episodes are cut off after a fixed number of
// timesteps.
package catcher

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"sfneuman.com/gooption/environment"
	"sfneuman.com/gooption/timestep"
)

// Actions available in the Catcher environment
const (
	MoveLeft int = iota
	Stay
	MoveRight
)

// Rewards returned by the Catcher environment
const (
	Catch float64 = 1.0
	Miss  float64 = -1.0
	None  float64 = 0.0
)

// Catcher implements the pellet-catching environment. The screen has
// Rows() x Cols() cells and a single observation channel.
type Catcher struct {
	environment.Starter
	rows, cols int

	paddleCol            int
	pelletRow, pelletCol int

	discount    float64
	stepLimit   int
	currentStep timestep.TimeStep
}

// New creates a new Catcher with a screen of the given size. The
// starter samples the starting columns of the paddle and the first
// pellet; each sampled value is truncated to a legal column index.
// Episodes are cut off after stepLimit steps.
func New(rows, cols int, s environment.Starter, discount float64,
	stepLimit int) (*Catcher, timestep.TimeStep, error) {
	if rows < 2 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: catcher needs at "+
			"least 2 rows \n\twant(>=2) \n\thave(%v)", rows)
	}
	if cols < 1 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: catcher needs at "+
			"least 1 column \n\twant(>=1) \n\thave(%v)", cols)
	}
	if stepLimit < 1 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: episode step limit "+
			"must be positive \n\twant(>0) \n\thave(%v)", stepLimit)
	}

	c := &Catcher{
		Starter:   s,
		rows:      rows,
		cols:      cols,
		discount:  discount,
		stepLimit: stepLimit,
	}
	step := c.Reset()

	return c, step, nil
}

// NewWithRandomStart creates a new Catcher whose paddle and pellet
// columns are sampled uniformly at random at the start of each episode.
func NewWithRandomStart(rows, cols int, seed uint64, discount float64,
	stepLimit int) (*Catcher, timestep.TimeStep, error) {
	bounds := []r1.Interval{
		{Min: 0, Max: float64(cols)}, // Paddle column
		{Min: 0, Max: float64(cols)}, // Pellet column
	}
	starter := environment.NewUniformStarter(bounds, seed)

	return New(rows, cols, starter, discount, stepLimit)
}

// Rows returns the number of rows in the screen
func (c *Catcher) Rows() int {
	return c.rows
}

// Cols returns the number of columns in the screen
func (c *Catcher) Cols() int {
	return c.cols
}

// Channels returns the number of channels in the observation image
func (c *Catcher) Channels() int {
	return 1
}

// Reset resets the environment between episodes. The paddle and a new
// pellet are placed at columns drawn from the environment's Starter.
func (c *Catcher) Reset() timestep.TimeStep {
	start := c.Start()
	c.paddleCol = c.column(start.AtVec(0))
	c.pelletCol = c.column(start.AtVec(1))
	c.pelletRow = 0

	startStep := timestep.New(timestep.First, 0, c.discount,
		c.observation(), 0)
	c.currentStep = startStep

	return startStep
}

// Step takes one environmental step given the action to perform and
// returns the next timestep and whether it was the last in the episode.
func (c *Catcher) Step(action mat.Vector) (timestep.TimeStep, bool) {
	switch int(action.AtVec(0)) {
	case MoveLeft:
		if c.paddleCol > 0 {
			c.paddleCol--
		}

	case MoveRight:
		if c.paddleCol < c.cols-1 {
			c.paddleCol++
		}

	case Stay:

	default:
		panic(fmt.Sprintf("step: illegal action %v", action.AtVec(0)))
	}

	// Drop the pellet by one row
	c.pelletRow++

	reward := None
	if c.pelletRow == c.rows-1 {
		if c.pelletCol == c.paddleCol {
			reward = Catch
		} else {
			reward = Miss
		}

		// Spawn a new pellet at the top of the screen
		c.pelletRow = 0
		c.pelletCol = c.column(c.Start().AtVec(1))
	}

	number := c.currentStep.Number + 1
	stepType := timestep.Mid
	discount := c.discount
	if number >= c.stepLimit {
		stepType = timestep.Last
		discount = 0.0
	}

	step := timestep.New(stepType, reward, discount, c.observation(), number)
	c.currentStep = step

	last := step.Last()
	return step, last
}

// RewardSpec returns the environment's reward specification
func (c *Catcher) RewardSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{Miss})
	upperBound := mat.NewVecDense(1, []float64{Catch})

	return environment.NewSpec(shape, environment.Reward, lowerBound,
		upperBound, environment.Discrete)
}

// DiscountSpec returns the environment's discount specification
func (c *Catcher) DiscountSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{c.discount})

	return environment.NewSpec(shape, environment.Discount, bound, bound,
		environment.Continuous)
}

// ObservationSpec returns the environment's observation specification.
// Observations are flattened single-channel binary images.
func (c *Catcher) ObservationSpec() environment.Spec {
	features := c.rows * c.cols
	shape := mat.NewVecDense(features, nil)

	lowerBound := mat.NewVecDense(features, nil)
	upperBacking := make([]float64, features)
	for i := range upperBacking {
		upperBacking[i] = 1.0
	}
	upperBound := mat.NewVecDense(features, upperBacking)

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Discrete)
}

// ActionSpec returns the environment's action specification
func (c *Catcher) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MoveLeft)})
	upperBound := mat.NewVecDense(1, []float64{float64(MoveRight)})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Discrete)
}

// observation constructs the current screen image as a flattened
// row-major vector
func (c *Catcher) observation() mat.Vector {
	screen := make([]float64, c.rows*c.cols)
	screen[c.pelletRow*c.cols+c.pelletCol] = 1.0
	screen[(c.rows-1)*c.cols+c.paddleCol] = 1.0

	return mat.NewVecDense(len(screen), screen)
}

// column truncates a sampled starting value to a legal column index
func (c *Catcher) column(sample float64) int {
	col := int(sample)
	if col < 0 {
		col = 0
	}
	if col >= c.cols {
		col = c.cols - 1
	}
	return col
}
