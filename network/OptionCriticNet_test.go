package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// testNet returns a small OptionCriticNet for testing along with the
// number of features in its input observations
func testNet(t *testing.T, batch int) (*OptionCriticNet, int) {
	g := G.NewGraph()
	net, err := NewOptionCriticNet(1, 6, 6, batch, 2, 3, g,
		[]int{2}, []int{3}, []int{1}, 10, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}
	return net, net.Features()
}

// run runs the forward pass of a net on the given input observations
func run(t *testing.T, net *OptionCriticNet, input []float64) {
	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()

	if err := net.SetInput(input); err != nil {
		t.Fatal(err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
}

// obs returns a deterministic test observation with the given number
// of features
func obs(features int) []float64 {
	observation := make([]float64, features)
	for i := range observation {
		observation[i] = math.Sin(float64(i))
	}
	return observation
}

// TestOptionCriticNetShapes checks the output shapes of each head of
// the network.
func TestOptionCriticNetShapes(t *testing.T) {
	net, features := testNet(t, 1)
	run(t, net, obs(features))

	q := net.QVal().(tensor.Tensor)
	if !q.Shape().Eq(tensor.Shape{1, 2}) {
		t.Errorf("invalid option value shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{1, 2}, q.Shape())
	}

	term := net.TerminationsVal().(tensor.Tensor)
	if !term.Shape().Eq(tensor.Shape{1, 2}) {
		t.Errorf("invalid termination shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{1, 2}, term.Shape())
	}

	logits := net.PolicyLogitsVal().(tensor.Tensor)
	if !logits.Shape().Eq(tensor.Shape{2, 3}) {
		t.Errorf("invalid policy logits shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{2, 3}, logits.Shape())
	}
}

// TestOptionCriticNetUniformInitialPolicy ensures that the policy bank
// starts with all-zero logits, so that each option's initial policy is
// uniform over actions.
func TestOptionCriticNetUniformInitialPolicy(t *testing.T) {
	net, features := testNet(t, 1)
	run(t, net, obs(features))

	logits := net.PolicyLogitsVal().Data().([]float64)
	for i, logit := range logits {
		if logit != 0.0 {
			t.Errorf("policy logit %v is not zero at initialization: %v", i,
				logit)
		}
	}
}

// TestOptionCriticNetTerminationProbabilities ensures termination head
// outputs are valid probabilities.
func TestOptionCriticNetTerminationProbabilities(t *testing.T) {
	net, features := testNet(t, 1)
	run(t, net, obs(features))

	terminations := net.TerminationsVal().Data().([]float64)
	for i, p := range terminations {
		if p <= 0.0 || p >= 1.0 {
			t.Errorf("termination probability %v outside (0, 1): %v", i, p)
		}
	}
}

// TestOptionCriticNetSet ensures that Set makes two independently
// initialized networks compute identical predictions.
func TestOptionCriticNetSet(t *testing.T) {
	net1, features := testNet(t, 1)
	net2, _ := testNet(t, 1)

	input := obs(features)
	if err := net2.Set(net1); err != nil {
		t.Fatal(err)
	}

	run(t, net1, input)
	run(t, net2, input)

	q1 := net1.QVal().Data().([]float64)
	q2 := net2.QVal().Data().([]float64)
	for i := range q1 {
		if q1[i] != q2[i] {
			t.Errorf("option value %v differs after Set "+
				"\n\twant(%v)\n\thave(%v)", i, q1[i], q2[i])
		}
	}
}

// TestOptionCriticNetCloneWithBatch ensures that a minibatch clone
// shares weights with the original network and predicts the same
// option values for repeated observations.
func TestOptionCriticNetCloneWithBatch(t *testing.T) {
	net, features := testNet(t, 1)

	batch := 3
	cloned, err := net.CloneWithBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	batchNet := cloned.(*OptionCriticNet)

	if len(batchNet.Learnables()) != len(net.Learnables()) {
		t.Fatalf("clone has a different number of learnables "+
			"\n\twant(%v)\n\thave(%v)", len(net.Learnables()),
			len(batchNet.Learnables()))
	}

	single := obs(features)
	batchInput := make([]float64, 0, batch*features)
	for i := 0; i < batch; i++ {
		batchInput = append(batchInput, single...)
	}

	run(t, net, single)
	run(t, batchNet, batchInput)

	q := net.QVal().Data().([]float64)
	batchQ := batchNet.QVal().Data().([]float64)
	numOptions := net.NumOptions()
	for i := 0; i < batch; i++ {
		for o := 0; o < numOptions; o++ {
			want := q[o]
			have := batchQ[i*numOptions+o]
			if math.Abs(want-have) > 1e-12 {
				t.Errorf("batched option value (%v, %v) differs from "+
					"single prediction \n\twant(%v)\n\thave(%v)", i, o, want,
					have)
			}
		}
	}
}
