package optioncritic

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"sfneuman.com/gooption/expreplay"
	"sfneuman.com/gooption/utils/floatutils"
	"sfneuman.com/gooption/utils/op"
)

// buildCriticGraph adds the critic loss to the computational graph of
// the minibatch critic network.
//
// The loss is the clipped-quadratic cost of the TD error between the
// externally computed bootstrap targets and the network's value of
// each transition's option, summed over the minibatch:
//
//	loss = Σ clippedQuadratic(target - Q(s)[o])
//
// Targets are plain inputs to the graph, so no gradient can reach the
// networks that produced them.
func (o *OptionCritic) buildCriticGraph(clipDelta float64) error {
	g := o.criticNet.Graph()

	o.criticOptions = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(o.batchSize, o.numOptions),
		G.WithName("sampledOptions"),
	)
	o.criticTargets = G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(o.batchSize),
		G.WithName("bootstrapTargets"),
	)

	// Value of each transition's sampled option
	selectedQ := G.Must(G.HadamardProd(o.criticNet.Q(), o.criticOptions))
	selectedQ = G.Must(G.Sum(selectedQ, 1))

	tdErrors := G.Must(G.Sub(o.criticTargets, selectedQ))
	losses, err := op.ClippedQuadratic(tdErrors, clipDelta)
	if err != nil {
		return fmt.Errorf("buildcriticgraph: could not compute clipped "+
			"cost: %v", err)
	}
	loss := G.Must(G.Sum(losses))
	G.Read(loss, &o.criticLoss)

	// The loss reaches the torso and Q head only, so only those
	// parameters get gradients
	if _, err := G.Grad(loss, o.criticNet.CriticLearnables()...); err != nil {
		return fmt.Errorf("buildcriticgraph: could not compute gradient: %v",
			err)
	}

	o.criticVM = G.NewTapeMachine(
		g,
		G.BindDualValues(o.criticNet.CriticLearnables()...),
	)

	return nil
}

// criticUpdate samples a minibatch of transitions and performs one
// gradient step on the clipped TD loss
func (o *OptionCritic) criticUpdate() error {
	states, options, rewards, nextStates, dones, err := o.replay.Sample()
	if expreplay.IsEmptyBuffer(err) || expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("criticupdate: could not sample transitions: %v",
			err)
	}

	// Detached quantities: live termination probabilities and target
	// option values at the next states
	nextTerminations := o.predictLiveBatch(nextStates)
	nextQ := o.predictTargetBatch(nextStates)

	targets := make([]float64, o.batchSize)
	optionMask := make([]float64, o.batchSize*o.numOptions)
	for i := 0; i < o.batchSize; i++ {
		option := int(options[i])
		row := nextQ[i*o.numOptions : (i+1)*o.numOptions]

		targets[i] = bootstrapTarget(
			rewards[i],
			dones[i] == 1.0,
			o.gamma,
			nextTerminations[i*o.numOptions+option],
			row[option],
			floatutils.Max(row...),
		)
		optionMask[i*o.numOptions+option] = 1.0
	}

	if err := o.criticNet.SetInput(states); err != nil {
		return fmt.Errorf("criticupdate: could not set critic input: %v", err)
	}

	err = G.Let(o.criticOptions, tensor.New(
		tensor.WithBacking(optionMask),
		tensor.WithShape(o.batchSize, o.numOptions),
	))
	if err != nil {
		return fmt.Errorf("criticupdate: could not set sampled options: %v",
			err)
	}

	err = G.Let(o.criticTargets, tensor.New(
		tensor.WithBacking(targets),
		tensor.WithShape(o.batchSize),
	))
	if err != nil {
		return fmt.Errorf("criticupdate: could not set bootstrap targets: "+
			"%v", err)
	}

	if err := o.criticVM.RunAll(); err != nil {
		return fmt.Errorf("criticupdate: could not run critic graph: %v", err)
	}
	if err := o.criticSolver.Step(o.criticNet.CriticModel()); err != nil {
		return fmt.Errorf("criticupdate: could not step critic solver: %v",
			err)
	}
	o.criticVM.Reset()

	return o.syncLive(o.criticNet)
}

// bootstrapTarget computes the bootstrap value target of a transition:
//
//	reward + (1-done) * γ * [(1-β) * Q'(s')[o] + β * max Q'(s')]
//
// where β is the live model's termination probability of the
// transition's option in the next state and Q' is the target model.
// On episode-ending transitions the target is exactly the reward.
func bootstrapTarget(reward float64, done bool, gamma, nextTermProb, nextQ,
	maxNextQ float64) float64 {
	if done {
		return reward
	}
	continuation := (1.0-nextTermProb)*nextQ + nextTermProb*maxNextQ
	return reward + gamma*continuation
}
