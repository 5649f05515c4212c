package policy

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"sfneuman.com/gooption/environment/catcher"
	"sfneuman.com/gooption/timestep"
)

// testPolicy returns a small EGreedyOptionPolicy on the Catcher
// environment along with the environment's starting timestep
func testPolicy(t *testing.T, epsStart, epsMin, epsDecay,
	epsTest float64) (*EGreedyOptionPolicy, timestep.TimeStep) {
	rows, cols := 5, 5
	env, step, err := catcher.NewWithRandomStart(rows, cols, 21, 0.99, 20)
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewEGreedyOptionPolicy(
		env,
		1,
		rows,
		cols,
		2,
		G.NewGraph(),
		[]int{2},
		[]int{2},
		[]int{1},
		8,
		G.GlorotU(1.0),
		epsStart,
		epsMin,
		epsDecay,
		epsTest,
		21,
	)
	if err != nil {
		t.Fatal(err)
	}
	return p, step
}

// TestEpsilonSchedule checks that the exploration rate starts at its
// configured starting value, decays monotonically toward its minimum as
// the schedule advances, and never drops below the minimum.
func TestEpsilonSchedule(t *testing.T) {
	epsStart, epsMin := 1.0, 0.1
	p, _ := testPolicy(t, epsStart, epsMin, 50, 0.05)
	defer p.Close()

	if eps := p.Epsilon(); eps != epsStart {
		t.Errorf("invalid starting exploration rate "+
			"\n\twant(%v)\n\thave(%v)", epsStart, eps)
	}

	// Reading the rate must not advance the schedule
	if eps := p.Epsilon(); eps != epsStart {
		t.Errorf("reading the exploration rate advanced the schedule "+
			"\n\twant(%v)\n\thave(%v)", epsStart, eps)
	}

	prev := p.Epsilon()
	for i := 0; i < 500; i++ {
		p.AdvanceStep()
		eps := p.Epsilon()
		if eps > prev {
			t.Fatalf("exploration rate increased at step %v "+
				"\n\twant(<=%v)\n\thave(%v)", i+1, prev, eps)
		}
		if eps < epsMin {
			t.Fatalf("exploration rate fell below its minimum at step %v "+
				"\n\twant(>=%v)\n\thave(%v)", i+1, epsMin, eps)
		}
		prev = eps
	}

	// After many decay time constants the rate should be close to its
	// minimum
	if eps := p.Epsilon(); eps > epsMin+1e-3 {
		t.Errorf("exploration rate did not approach its minimum "+
			"\n\twant(~%v)\n\thave(%v)", epsMin, eps)
	}
}

// TestEpsilonEval checks that evaluation mode uses the constant
// evaluation exploration rate and freezes the decay schedule.
func TestEpsilonEval(t *testing.T) {
	epsTest := 0.05
	p, _ := testPolicy(t, 1.0, 0.1, 50, epsTest)
	defer p.Close()

	trainEps := p.Epsilon()
	p.Eval()

	if eps := p.Epsilon(); eps != epsTest {
		t.Errorf("invalid evaluation exploration rate "+
			"\n\twant(%v)\n\thave(%v)", epsTest, eps)
	}

	// The schedule must not advance in evaluation mode
	for i := 0; i < 100; i++ {
		p.AdvanceStep()
	}
	p.Train()

	if eps := p.Epsilon(); eps != trainEps {
		t.Errorf("evaluation advanced the exploration schedule "+
			"\n\twant(%v)\n\thave(%v)", trainEps, eps)
	}
}

// TestAct checks that sampled actions are legal and come with a
// consistent log probability and a valid entropy.
func TestAct(t *testing.T) {
	p, step := testPolicy(t, 1.0, 0.1, 50, 0.05)
	defer p.Close()

	numActions := p.net.NumActions()
	maxEntropy := math.Log(float64(numActions))

	for option := 0; option < p.net.NumOptions(); option++ {
		for i := 0; i < 10; i++ {
			action, logProb, entropy := p.Act(step, option)

			if a := int(action.AtVec(0)); a < 0 || a >= numActions {
				t.Fatalf("sampled illegal action %v", a)
			}
			if logProb > 0.0 {
				t.Fatalf("invalid action log probability "+
					"\n\twant(<=0)\n\thave(%v)", logProb)
			}
			if entropy < 0.0 || entropy > maxEntropy+1e-12 {
				t.Fatalf("invalid action distribution entropy "+
					"\n\twant(in [0, %v])\n\thave(%v)", maxEntropy, entropy)
			}
		}
	}
}

// TestSelectOption ensures selected options and predicted greedy
// options are always legal.
func TestSelectOption(t *testing.T) {
	p, step := testPolicy(t, 0.5, 0.1, 50, 0.05)
	defer p.Close()

	numOptions := p.net.NumOptions()
	for i := 0; i < 25; i++ {
		if o := p.SelectOption(step); o < 0 || o >= numOptions {
			t.Fatalf("selected illegal option %v", o)
		}

		_, greedy := p.PredictTermination(step, i%numOptions)
		if greedy < 0 || greedy >= numOptions {
			t.Fatalf("predicted illegal greedy option %v", greedy)
		}
	}
}
