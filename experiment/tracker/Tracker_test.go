package tracker

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
	ts "sfneuman.com/gooption/timestep"
)

// episode returns a sequence of timesteps forming one episode with the
// given per-step rewards
func episode(rewards []float64) []ts.TimeStep {
	obs := mat.NewVecDense(1, []float64{0.0})

	steps := []ts.TimeStep{ts.New(ts.First, 0.0, 1.0, obs, 0)}
	for i, reward := range rewards {
		stepType := ts.Mid
		if i == len(rewards)-1 {
			stepType = ts.Last
		}
		steps = append(steps, ts.New(stepType, reward, 1.0, obs, i+1))
	}
	return steps
}

// TestReturnTracker checks that episodic returns accumulate per episode
// and survive a save and load round trip.
func TestReturnTracker(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)

	episodes := [][]float64{
		{1.0, -1.0, 1.0},
		{-1.0, -1.0},
	}
	for _, rewards := range episodes {
		for _, step := range episode(rewards) {
			r.Track(step)
		}
	}

	r.Save()
	data := LoadData(filename)

	want := []float64{1.0, -2.0}
	if len(data) != len(want) {
		t.Fatalf("invalid number of episodic returns "+
			"\n\twant(%v)\n\thave(%v)", len(want), len(data))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("invalid return for episode %v \n\twant(%v)\n\thave(%v)",
				i, want[i], data[i])
		}
	}
}

// TestReturnTrackerNonSequential ensures tracking non-sequential
// timesteps panics.
func TestReturnTrackerNonSequential(t *testing.T) {
	r := NewReturn(filepath.Join(t.TempDir(), "returns.bin"))

	obs := mat.NewVecDense(1, []float64{0.0})
	r.Track(ts.New(ts.First, 0.0, 1.0, obs, 0))

	defer func() {
		if recover() == nil {
			t.Error("tracking non-sequential timesteps did not panic")
		}
	}()
	r.Track(ts.New(ts.Mid, 0.0, 1.0, obs, 5))
}
