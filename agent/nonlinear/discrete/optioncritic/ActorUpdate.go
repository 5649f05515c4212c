package optioncritic

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"sfneuman.com/gooption/utils/floatutils"
	"sfneuman.com/gooption/utils/op"
)

// buildActorGraph adds the actor loss to the computational graph of
// the single-sample actor network.
//
// The loss has a termination term and a policy-gradient term:
//
//	loss = β(s)[o] * (Q(s)[o] - max Q(s) + reg)
//	     - log π(a|s,o) * (target - Q(s)[o])
//	     - entropyReg * H(π(·|s,o))
//
// Only the termination probability β, the log probability, and the
// entropy are computed in-graph, so gradients reach the termination
// head, the policy bank, and the shared torso. The bracketed
// advantages are computed outside the graph with the prediction
// networks and enter as scalar inputs, keeping the Q head and the
// target model out of the gradient's reach.
func (o *OptionCritic) buildActorGraph(entropyReg float64) error {
	g := o.actorNet.Graph()

	o.actorOption = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, o.numOptions),
		G.WithName("executingOption"),
	)
	o.actorOptionOn = make([]*G.Node, o.numOptions)
	for i := range o.actorOptionOn {
		o.actorOptionOn[i] = G.NewScalar(g, tensor.Float64,
			G.WithName(fmt.Sprintf("executingOption%d", i)))
	}
	o.actorAction = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, o.numActions),
		G.WithName("selectedAction"),
	)
	o.terminationAdv = G.NewScalar(g, tensor.Float64,
		G.WithName("terminationAdvantage"))
	o.negAdvantage = G.NewScalar(g, tensor.Float64,
		G.WithName("negativeAdvantage"))

	// Termination probability of the executing option
	termProb := G.Must(G.HadamardProd(o.actorNet.Terminations(),
		o.actorOption))
	termProb = G.Must(G.Sum(termProb))

	// Logits of the executing option's policy. Each option's logits are
	// scaled by that option's one-hot entry and summed, staying on
	// per-option nodes; the stacked PolicyLogits node cannot carry
	// gradients.
	logits := G.Must(G.Mul(o.actorOptionOn[0], o.actorNet.PolicyLogitsFor(0)))
	for i := 1; i < o.numOptions; i++ {
		scaled := G.Must(G.Mul(o.actorOptionOn[i],
			o.actorNet.PolicyLogitsFor(i)))
		logits = G.Must(G.Add(logits, scaled))
	}

	logTotal := op.LogSumExp(logits, 1)
	logProbs := G.Must(G.BroadcastSub(logits, logTotal, nil, []byte{1}))
	probs := G.Must(G.Exp(logProbs))

	// Log probability of the taken action under the executing option
	logProb := G.Must(G.HadamardProd(logProbs, o.actorAction))
	logProb = G.Must(G.Sum(logProb))

	// Entropy of the executing option's action distribution
	entropy := G.Must(G.HadamardProd(probs, logProbs))
	entropy = G.Must(G.Neg(G.Must(G.Sum(entropy))))

	terminationLoss := G.Must(G.Mul(termProb, o.terminationAdv))
	policyLoss := G.Must(G.Mul(logProb, o.negAdvantage))
	entropyBonus := G.Must(G.Mul(G.NewConstant(entropyReg), entropy))

	loss := G.Must(G.Add(terminationLoss, policyLoss))
	loss = G.Must(G.Sub(loss, entropyBonus))
	G.Read(loss, &o.actorLoss)

	// The Q head stays out of the actor update
	if _, err := G.Grad(loss, o.actorNet.ActorLearnables()...); err != nil {
		return fmt.Errorf("buildactorgraph: could not compute gradient: %v",
			err)
	}

	o.actorVM = G.NewTapeMachine(
		g,
		G.BindDualValues(o.actorNet.ActorLearnables()...),
	)

	return nil
}

// actorUpdate performs one gradient step on the termination and
// policy-gradient loss of the most recent transition
func (o *OptionCritic) actorUpdate() error {
	t := o.lastTransition

	// Detached quantities: live option values at the current state,
	// live termination probability and target option values at the
	// next state
	q, _ := o.predictLive(t.State)
	_, nextTerminations := o.predictLive(t.NextState)
	nextQ := o.predictTarget(t.NextState)

	target := bootstrapTarget(
		t.Reward,
		t.Done,
		o.gamma,
		nextTerminations[t.Option],
		nextQ[t.Option],
		floatutils.Max(nextQ...),
	)

	termAdv := terminationAdvantage(q, t.Option, o.terminationReg)
	negAdv := -(target - q[t.Option])

	if err := o.actorNet.SetInput(obsData(t.State)); err != nil {
		return fmt.Errorf("actorupdate: could not set actor input: %v", err)
	}

	optionMask := make([]float64, o.numOptions)
	optionMask[t.Option] = 1.0
	err := G.Let(o.actorOption, tensor.New(
		tensor.WithBacking(optionMask),
		tensor.WithShape(1, o.numOptions),
	))
	if err != nil {
		return fmt.Errorf("actorupdate: could not set executing option: %v",
			err)
	}

	for i, on := range o.actorOptionOn {
		entry := 0.0
		if i == t.Option {
			entry = 1.0
		}
		if err := G.Let(on, entry); err != nil {
			return fmt.Errorf("actorupdate: could not set executing "+
				"option: %v", err)
		}
	}

	actionMask := make([]float64, o.numActions)
	actionMask[t.Action] = 1.0
	err = G.Let(o.actorAction, tensor.New(
		tensor.WithBacking(actionMask),
		tensor.WithShape(1, o.numActions),
	))
	if err != nil {
		return fmt.Errorf("actorupdate: could not set selected action: %v",
			err)
	}

	if err := G.Let(o.terminationAdv, termAdv); err != nil {
		return fmt.Errorf("actorupdate: could not set termination "+
			"advantage: %v", err)
	}
	if err := G.Let(o.negAdvantage, negAdv); err != nil {
		return fmt.Errorf("actorupdate: could not set advantage: %v", err)
	}

	if err := o.actorVM.RunAll(); err != nil {
		return fmt.Errorf("actorupdate: could not run actor graph: %v", err)
	}
	if err := o.actorSolver.Step(o.actorNet.ActorModel()); err != nil {
		return fmt.Errorf("actorupdate: could not step actor solver: %v", err)
	}
	o.actorVM.Reset()

	return o.syncLive(o.actorNet)
}

// terminationAdvantage computes the margin by which continuing the
// given option is worse than switching to the best option:
//
//	Q(s)[option] - max Q(s) + reg
//
// The termination loss scales the option's termination probability by
// this quantity, pushing the probability up when continuing is worse
// than the best alternative by at least the regularization margin.
// With a single option the advantage is exactly reg.
func terminationAdvantage(q []float64, option int, reg float64) float64 {
	return q[option] - floatutils.Max(q...) + reg
}
