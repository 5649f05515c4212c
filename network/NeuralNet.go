// Package network implements neural networks built on Gorgonia
// computational graphs.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a neural network on a Gorgonia computational
// graph. A NeuralNet may have many output heads, each of which is
// recorded in the graph with a separate prediction node.
//
// NeuralNets are cloneable. A clone shares no graph state with the
// network it was cloned from, but starts with equal weights. Clones
// may have a different input batch size than the original network,
// which is how the same architecture is used both for single-step
// action selection and for minibatch training.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node
}
