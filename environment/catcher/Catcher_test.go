package catcher

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	"sfneuman.com/gooption/timestep"
)

// fixedStart is a Starter that always returns the same starting columns
type fixedStart struct {
	paddle, pellet float64
}

func (f fixedStart) Start() mat.Vector {
	return mat.NewVecDense(2, []float64{f.paddle, f.pellet})
}

// TestObservationShape ensures that observations are binary images of
// the correct size with exactly the paddle and pellet cells set.
func TestObservationShape(t *testing.T) {
	c, step, err := New(5, 5, fixedStart{paddle: 2, pellet: 4}, 0.99, 100)
	if err != nil {
		t.Fatal(err)
	}

	obs := step.Observation
	if obs.Len() != c.Rows()*c.Cols() {
		t.Fatalf("invalid observation length \n\twant(%v)\n\thave(%v)",
			c.Rows()*c.Cols(), obs.Len())
	}

	ones := 0
	for i := 0; i < obs.Len(); i++ {
		switch obs.AtVec(i) {
		case 0.0:
		case 1.0:
			ones++
		default:
			t.Fatalf("observation cell %v is not binary: %v", i, obs.AtVec(i))
		}
	}
	if ones != 2 {
		t.Errorf("invalid number of set cells \n\twant(%v)\n\thave(%v)", 2,
			ones)
	}

	// Pellet at top row, column 4; paddle at bottom row, column 2
	if obs.AtVec(4) != 1.0 {
		t.Error("pellet not at expected starting cell")
	}
	if obs.AtVec(4*c.Cols()+2) != 1.0 {
		t.Error("paddle not at expected starting cell")
	}
}

// TestCatch drops a pellet directly onto the paddle and checks the
// reward sequence.
func TestCatch(t *testing.T) {
	rows := 4
	c, _, err := New(rows, 5, fixedStart{paddle: 1, pellet: 1}, 0.99, 100)
	if err != nil {
		t.Fatal(err)
	}

	stay := mat.NewVecDense(1, []float64{float64(Stay)})

	// The pellet needs rows-1 steps to reach the bottom row
	var step timestep.TimeStep
	for i := 0; i < rows-1; i++ {
		step, _ = c.Step(stay)
	}

	if step.Reward != Catch {
		t.Errorf("invalid reward on catch \n\twant(%v)\n\thave(%v)", Catch,
			step.Reward)
	}
}

// TestMiss drops a pellet away from the paddle and checks the penalty.
func TestMiss(t *testing.T) {
	rows := 4
	c, _, err := New(rows, 5, fixedStart{paddle: 0, pellet: 4}, 0.99, 100)
	if err != nil {
		t.Fatal(err)
	}

	stay := mat.NewVecDense(1, []float64{float64(Stay)})

	var step timestep.TimeStep
	for i := 0; i < rows-1; i++ {
		step, _ = c.Step(stay)
	}

	if step.Reward != Miss {
		t.Errorf("invalid reward on miss \n\twant(%v)\n\thave(%v)", Miss,
			step.Reward)
	}
}

// TestStepLimit ensures episodes are cut off at the step limit with a
// Last timestep and zero discount.
func TestStepLimit(t *testing.T) {
	limit := 10
	c, _, err := New(5, 5, fixedStart{paddle: 2, pellet: 2}, 0.99, limit)
	if err != nil {
		t.Fatal(err)
	}

	left := mat.NewVecDense(1, []float64{float64(MoveLeft)})

	var step timestep.TimeStep
	var last bool
	for i := 0; i < limit; i++ {
		if last {
			t.Fatalf("episode ended early at step %v", i)
		}
		step, last = c.Step(left)
	}

	if !last || !step.Last() {
		t.Error("episode did not end at the step limit")
	}
	if step.Discount != 0.0 {
		t.Errorf("invalid cutoff discount \n\twant(%v)\n\thave(%v)", 0.0,
			step.Discount)
	}

	// Reset starts a fresh episode
	step = c.Reset()
	if !step.First() || step.Number != 0 {
		t.Error("reset did not produce a First timestep")
	}
}

// TestPaddleBounds ensures the paddle cannot leave the screen.
func TestPaddleBounds(t *testing.T) {
	c, _, err := New(5, 3, fixedStart{paddle: 0, pellet: 2}, 0.99, 100)
	if err != nil {
		t.Fatal(err)
	}

	left := mat.NewVecDense(1, []float64{float64(MoveLeft)})
	step, _ := c.Step(left)

	// Paddle stays in the bottom-left corner
	bottomLeft := (c.Rows() - 1) * c.Cols()
	if step.Observation.AtVec(bottomLeft) != 1.0 {
		t.Error("paddle moved off the left edge of the screen")
	}
}
