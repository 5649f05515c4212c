package optioncritic

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"sfneuman.com/gooption/environment/catcher"
	"sfneuman.com/gooption/expreplay"
	"sfneuman.com/gooption/initwfn"
	"sfneuman.com/gooption/solver"
)

const tolerance float64 = 1e-12

// TestBootstrapTargetDone ensures that episode-ending transitions
// bootstrap nothing: the target is exactly the reward.
func TestBootstrapTargetDone(t *testing.T) {
	target := bootstrapTarget(-1.0, true, 0.99, 0.7, 100.0, 200.0)
	if target != -1.0 {
		t.Errorf("invalid target on ending transition "+
			"\n\twant(%v)\n\thave(%v)", -1.0, target)
	}
}

// TestBootstrapTarget checks the bootstrap target against the
// termination-weighted mixture of continuing with the same option and
// switching to the best one.
func TestBootstrapTarget(t *testing.T) {
	reward := 0.5
	gamma := 0.9
	nextQ := 1.0
	maxNextQ := 2.0

	// With zero termination probability, the option continues and the
	// target bootstraps from the option's own value
	target := bootstrapTarget(reward, false, gamma, 0.0, nextQ, maxNextQ)
	if math.Abs(target-(reward+gamma*nextQ)) > tolerance {
		t.Errorf("invalid target for a continuing option "+
			"\n\twant(%v)\n\thave(%v)", reward+gamma*nextQ, target)
	}

	// With certain termination, the target bootstraps from the best
	// option's value
	target = bootstrapTarget(reward, false, gamma, 1.0, nextQ, maxNextQ)
	if math.Abs(target-(reward+gamma*maxNextQ)) > tolerance {
		t.Errorf("invalid target for a terminating option "+
			"\n\twant(%v)\n\thave(%v)", reward+gamma*maxNextQ, target)
	}

	// In between, the two bootstrap values mix by the termination
	// probability
	beta := 0.25
	want := reward + gamma*((1-beta)*nextQ+beta*maxNextQ)
	target = bootstrapTarget(reward, false, gamma, beta, nextQ, maxNextQ)
	if math.Abs(target-want) > tolerance {
		t.Errorf("invalid target \n\twant(%v)\n\thave(%v)", want, target)
	}
}

// TestTerminationAdvantage ensures the termination advantage reduces
// to the regularization margin when the executing option is the best
// one, in particular whenever there is only a single option.
func TestTerminationAdvantage(t *testing.T) {
	reg := 0.01

	if adv := terminationAdvantage([]float64{1.5}, 0, reg); adv != reg {
		t.Errorf("invalid advantage with a single option "+
			"\n\twant(%v)\n\thave(%v)", reg, adv)
	}

	q := []float64{0.25, 1.0, -0.5}
	if adv := terminationAdvantage(q, 1, reg); adv != reg {
		t.Errorf("invalid advantage for the greedy option "+
			"\n\twant(%v)\n\thave(%v)", reg, adv)
	}

	want := q[0] - q[1] + reg
	if adv := terminationAdvantage(q, 0, reg); math.Abs(adv-want) > tolerance {
		t.Errorf("invalid advantage \n\twant(%v)\n\thave(%v)", want, adv)
	}
}

// testConfig returns a small agent configuration for the test
// environments
func testConfig(t *testing.T, rows, cols, batchSize int) Config {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatal(err)
	}
	criticSolver, err := solver.NewDefaultRMSProp(0.001, batchSize)
	if err != nil {
		t.Fatal(err)
	}
	actorSolver, err := solver.NewDefaultRMSProp(0.001, 1)
	if err != nil {
		t.Fatal(err)
	}

	return Config{
		Channels:   1,
		Rows:       rows,
		Cols:       cols,
		Filters:    []int{2},
		Kernels:    []int{2},
		Strides:    []int{1},
		HiddenSize: 8,
		NumOptions: 2,

		InitWFn:      init,
		CriticSolver: criticSolver,
		ActorSolver:  actorSolver,

		EpsStart: 1.0,
		EpsMin:   0.1,
		EpsDecay: 100,
		EpsTest:  0.05,

		Gamma:          0.99,
		ClipDelta:      1.0,
		TerminationReg: 0.01,
		EntropyReg:     0.01,

		ExpReplay: expreplay.Config{
			RemoveMethod:      expreplay.Fifo,
			SampleMethod:      expreplay.Uniform,
			RemoveSize:        1,
			SampleSize:        batchSize,
			MaxReplayCapacity: 100,
			MinReplayCapacity: batchSize,
		},

		UpdateInterval:       2,
		Tau:                  1.0,
		TargetUpdateInterval: 5,
	}
}

// TestOptionCriticInteraction runs an OptionCritic agent against the
// Catcher environment for a few episodes, exercising option selection,
// termination sampling, and both update procedures.
func TestOptionCriticInteraction(t *testing.T) {
	rows, cols := 5, 5
	env, step, err := catcher.NewWithRandomStart(rows, cols, 14, 0.99, 20)
	if err != nil {
		t.Fatal(err)
	}

	config := testConfig(t, rows, cols, 4)
	a, err := New(env, config, 14)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.ObserveFirst(step); err != nil {
		t.Fatal(err)
	}

	criticUpdated := false
	for i := 0; i < 60; i++ {
		action := a.SelectAction(step)
		if act := int(action.AtVec(0)); act < catcher.MoveLeft ||
			act > catcher.MoveRight {
			t.Fatalf("agent selected illegal action %v", act)
		}

		var last bool
		step, last = env.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatal(err)
		}
		if err := a.Step(); err != nil {
			t.Fatal(err)
		}

		if a.CriticLoss() != 0.0 {
			criticUpdated = true
			if a.CriticLoss() < 0.0 {
				t.Fatalf("critic loss is negative: %v", a.CriticLoss())
			}
		}
		if loss := a.ActorLoss(); math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Fatalf("actor loss is not finite: %v", loss)
		}

		if last {
			step = env.Reset()
			if err := a.ObserveFirst(step); err != nil {
				t.Fatal(err)
			}
		}
	}

	if !criticUpdated {
		t.Error("critic never updated during interaction")
	}
}

// frozenNodes returns the nodes of all that are not in updated
func frozenNodes(all, updated G.Nodes) G.Nodes {
	in := make(map[*G.Node]bool, len(updated))
	for _, n := range updated {
		in[n] = true
	}

	var frozen G.Nodes
	for _, n := range all {
		if !in[n] {
			frozen = append(frozen, n)
		}
	}
	return frozen
}

// snapshotValues copies the current values of a list of nodes
func snapshotValues(nodes G.Nodes) [][]float64 {
	values := make([][]float64, len(nodes))
	for i, n := range nodes {
		data := n.Value().Data().([]float64)
		values[i] = make([]float64, len(data))
		copy(values[i], data)
	}
	return values
}

// requireUnchanged fails the test if any node's value differs from its
// snapshot
func requireUnchanged(t *testing.T, nodes G.Nodes, before [][]float64) {
	for i, n := range nodes {
		data := n.Value().Data().([]float64)
		for j := range data {
			if data[j] != before[i][j] {
				t.Fatalf("update changed the weights of %v "+
					"\n\twant(%v)\n\thave(%v)", n.Name(), before[i][j],
					data[j])
			}
		}
	}
}

// TestActorUpdateDetachedWeights ensures that an actor update changes
// neither the Q head nor the target networks: the advantages scaling
// the actor loss enter the graph as plain inputs.
func TestActorUpdateDetachedWeights(t *testing.T) {
	rows, cols := 5, 5
	env, step, err := catcher.NewWithRandomStart(rows, cols, 14, 0.99, 20)
	if err != nil {
		t.Fatal(err)
	}

	a, err := New(env, testConfig(t, rows, cols, 4), 14)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.ObserveFirst(step); err != nil {
		t.Fatal(err)
	}
	action := a.SelectAction(step)
	next, _ := env.Step(action)
	if err := a.Observe(action, next); err != nil {
		t.Fatal(err)
	}

	frozen := frozenNodes(a.actorNet.Learnables(),
		a.actorNet.ActorLearnables())
	frozen = append(frozen, a.targetNet.Learnables()...)
	before := snapshotValues(frozen)

	if err := a.actorUpdate(); err != nil {
		t.Fatal(err)
	}
	if loss := a.ActorLoss(); math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("actor loss is not finite: %v", loss)
	}

	requireUnchanged(t, frozen, before)
}

// TestCriticUpdateDetachedWeights ensures that a critic update changes
// neither the termination head, nor the policy bank, nor the target
// networks providing its bootstrap values.
func TestCriticUpdateDetachedWeights(t *testing.T) {
	rows, cols := 5, 5
	env, step, err := catcher.NewWithRandomStart(rows, cols, 14, 0.99, 20)
	if err != nil {
		t.Fatal(err)
	}

	a, err := New(env, testConfig(t, rows, cols, 4), 14)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.ObserveFirst(step); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		action := a.SelectAction(step)
		var last bool
		step, last = env.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatal(err)
		}
		if last {
			step = env.Reset()
			if err := a.ObserveFirst(step); err != nil {
				t.Fatal(err)
			}
		}
	}

	frozen := frozenNodes(a.criticNet.Learnables(),
		a.criticNet.CriticLearnables())
	frozen = append(frozen, a.targetNet.Learnables()...)
	before := snapshotValues(frozen)

	if err := a.criticUpdate(); err != nil {
		t.Fatal(err)
	}
	if a.criticLoss == nil {
		t.Fatal("critic update did not run")
	}

	requireUnchanged(t, frozen, before)
}

// TestOptionCriticEval ensures that evaluation mode never updates
// weights or stores transitions.
func TestOptionCriticEval(t *testing.T) {
	rows, cols := 5, 5
	env, step, err := catcher.NewWithRandomStart(rows, cols, 14, 0.99, 20)
	if err != nil {
		t.Fatal(err)
	}

	config := testConfig(t, rows, cols, 4)
	a, err := New(env, config, 14)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.Eval()
	if !a.IsEval() {
		t.Fatal("agent did not enter evaluation mode")
	}

	if err := a.ObserveFirst(step); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		action := a.SelectAction(step)
		step, _ = env.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatal(err)
		}
		if err := a.Step(); err != nil {
			t.Fatal(err)
		}
	}

	if a.replay.Capacity() != 0 {
		t.Error("evaluation stored transitions in the replay buffer")
	}
	if a.CriticLoss() != 0.0 || a.ActorLoss() != 0.0 {
		t.Error("evaluation updated the agent's weights")
	}
}
