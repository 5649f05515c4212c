package expreplay

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	"sfneuman.com/gooption/timestep"
)

// transition constructs a test transition whose state features all
// equal id, so that sampled states can be traced back to the Add call
// that stored them
func transition(features, id, option int, done bool) timestep.Transition {
	backing := make([]float64, features)
	next := make([]float64, features)
	for i := range backing {
		backing[i] = float64(id)
		next[i] = float64(id + 1)
	}

	return timestep.Transition{
		State:     mat.NewVecDense(features, backing),
		Option:    option,
		Action:    0,
		Reward:    float64(id),
		NextState: mat.NewVecDense(features, next),
		Done:      done,
	}
}

// TestSampleErrors ensures sampling from an empty or underfilled
// buffer returns the appropriate error.
func TestSampleErrors(t *testing.T) {
	features := 3
	buffer, err := Factory(Fifo, Uniform, 2, 10, features, 1, 2, 14)
	if err != nil {
		t.Fatal(err)
	}

	_, _, _, _, _, err = buffer.Sample()
	if !IsEmptyBuffer(err) {
		t.Errorf("expected empty buffer error, got %v", err)
	}

	if err := buffer.Add(transition(features, 0, 0, false)); err != nil {
		t.Fatal(err)
	}
	_, _, _, _, _, err = buffer.Sample()
	if !IsInsufficientSamples(err) {
		t.Errorf("expected insufficient samples error, got %v", err)
	}
}

// TestSampleBatch ensures sampled batches have the correct layout and
// hold data from added transitions.
func TestSampleBatch(t *testing.T) {
	features := 3
	batchSize := 4
	buffer, err := Factory(Fifo, Uniform, 1, 10, features, 1, batchSize, 14)
	if err != nil {
		t.Fatal(err)
	}

	added := 5
	for i := 0; i < added; i++ {
		err := buffer.Add(transition(features, i, i%2, i == added-1))
		if err != nil {
			t.Fatal(err)
		}
	}
	if buffer.Capacity() != added {
		t.Fatalf("invalid capacity \n\twant(%v)\n\thave(%v)", added,
			buffer.Capacity())
	}

	states, options, rewards, nextStates, dones, err := buffer.Sample()
	if err != nil {
		t.Fatal(err)
	}

	if len(states) != batchSize*features ||
		len(nextStates) != batchSize*features {
		t.Fatalf("invalid state batch size \n\twant(%v)\n\thave(%v)",
			batchSize*features, len(states))
	}
	if len(options) != batchSize || len(rewards) != batchSize ||
		len(dones) != batchSize {
		t.Fatalf("invalid batch size \n\twant(%v)\n\thave(%v)", batchSize,
			len(options))
	}

	for i := 0; i < batchSize; i++ {
		id := states[i*features]

		// All features of a sampled state share the transition id
		for j := 0; j < features; j++ {
			if states[i*features+j] != id {
				t.Errorf("sampled state %v mixes data from multiple "+
					"transitions", i)
			}
			if nextStates[i*features+j] != id+1 {
				t.Errorf("sampled next state %v does not follow its state", i)
			}
		}

		if rewards[i] != id {
			t.Errorf("sampled reward %v does not match its transition "+
				"\n\twant(%v)\n\thave(%v)", i, id, rewards[i])
		}
		if options[i] != float64(int(id)%2) {
			t.Errorf("sampled option %v does not match its transition "+
				"\n\twant(%v)\n\thave(%v)", i, int(id)%2, options[i])
		}
		if want := id == float64(added-1); (dones[i] == 1.0) != want {
			t.Errorf("sampled done flag %v does not match its transition "+
				"\n\twant(%v)\n\thave(%v)", i, want, dones[i])
		}
	}
}

// TestFifoRemoval ensures that, once full, the buffer discards the
// oldest transitions first.
func TestFifoRemoval(t *testing.T) {
	features := 1
	maxCap := 3
	buffer, err := Factory(Fifo, Uniform, 1, maxCap, features, 1, 1, 14)
	if err != nil {
		t.Fatal(err)
	}

	added := 10
	for i := 0; i < added; i++ {
		if err := buffer.Add(transition(features, i, 0, false)); err != nil {
			t.Fatal(err)
		}
	}

	if buffer.Capacity() != maxCap {
		t.Fatalf("buffer exceeded max capacity \n\twant(%v)\n\thave(%v)",
			maxCap, buffer.Capacity())
	}

	// Only the most recent transitions survive
	oldest := float64(added - maxCap)
	for i := 0; i < 100; i++ {
		states, _, _, _, _, err := buffer.Sample()
		if err != nil {
			t.Fatal(err)
		}
		if states[0] < oldest {
			t.Fatalf("buffer kept stale transition %v after FiFo removal",
				states[0])
		}
	}
}
