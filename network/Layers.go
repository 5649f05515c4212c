package network

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer implements a single layer of a neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer

	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer returns a new fully connected layer with the given input
// and output sizes. The weights are initialized with init and the bias,
// if present, with biasInit.
func newFCLayer(g *G.ExprGraph, features, outputs int, init,
	biasInit G.InitWFn, act *Activation, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(features, outputs),
		G.WithName(name+"W"),
		G.WithInit(init),
	)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, outputs),
		G.WithName(name+"B"),
		G.WithInit(biasInit),
	)

	return &fcLayer{
		weights: weights,
		bias:    bias,
		act:     act,
	}
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation().IsNil() || f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// convLayer implements a 2-dimensional convolutional layer of a neural
// network. Inputs are 4-dimensional tensors laid out as (batch,
// channels, rows, cols). No padding is used, and the kernels are
// square.
type convLayer struct {
	weights *G.Node // (filters, channels, kernel, kernel)
	bias    *G.Node // (1, filters, 1, 1)
	act     *Activation

	kernel int
	stride int
}

// newConvLayer returns a new convLayer with filters square kernels of
// the given size applied at the given stride.
func newConvLayer(g *G.ExprGraph, channels, filters, kernel, stride int,
	init, biasInit G.InitWFn, act *Activation, name string) *convLayer {
	weights := G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(filters, channels, kernel, kernel),
		G.WithName(name+"W"),
		G.WithInit(init),
	)
	bias := G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(1, filters, 1, 1),
		G.WithName(name+"B"),
		G.WithInit(biasInit),
	)

	return &convLayer{
		weights: weights,
		bias:    bias,
		act:     act,
		kernel:  kernel,
		stride:  stride,
	}
}

// fwd adds the forward pass of the convLayer to the computational graph
func (c *convLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Conv2d(
		x,
		c.Weights(),
		tensor.Shape{c.kernel, c.kernel},
		[]int{0, 0},
		[]int{c.stride, c.stride},
		[]int{1, 1},
	)
	if err != nil {
		return nil, err
	}
	if c.Bias() != nil {
		// Broadcast the bias weights along the batch and spatial
		// dimensions
		x = G.Must(G.BroadcastAdd(x, c.Bias(), nil, []byte{0, 2, 3}))
	}
	if c.Activation().IsNil() || c.Activation().IsIdentity() {
		return x, nil
	}
	return c.Activation().fwd(x)
}

// CloneTo clones a convLayer to a new computational graph
func (c *convLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if c.Weights() != nil {
		newWeights = c.Weights().CloneTo(g)
	}
	if c.Bias() != nil {
		newBias = c.Bias().CloneTo(g)
	}

	return &convLayer{
		weights: newWeights,
		bias:    newBias,
		act:     c.act,
		kernel:  c.kernel,
		stride:  c.stride,
	}
}

func (c *convLayer) Activation() *Activation {
	return c.act
}

func (c *convLayer) Bias() *G.Node {
	return c.bias
}

func (c *convLayer) Weights() *G.Node {
	return c.weights
}

// convOutSize returns the spatial output size of a convolution over
// size input cells with the given kernel size and stride and no
// padding
func convOutSize(size, kernel, stride int) int {
	return (size-kernel)/stride + 1
}
