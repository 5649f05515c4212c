// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/G.ld on GitHub
package op

import (
	G "gorgonia.org/gorgonia"
)

// Min returns the elementwise minimum of two nodes, computed as
// a - relu(a - b). The second node may be a scalar, in which case the
// minimum is taken against that scalar elementwise.
func Min(a, b *G.Node) (*G.Node, error) {
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, err
	}
	excess, err := G.Rectify(diff)
	if err != nil {
		return nil, err
	}
	return G.Sub(a, excess)
}

// Max returns the elementwise maximum of two nodes, computed as
// a + relu(b - a). The second node may be a scalar.
func Max(a, b *G.Node) (*G.Node, error) {
	diff, err := G.Sub(b, a)
	if err != nil {
		return nil, err
	}
	excess, err := G.Rectify(diff)
	if err != nil {
		return nil, err
	}
	return G.Add(a, excess)
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{byte(along)}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// ClippedQuadratic returns the elementwise clipped-quadratic cost of an
// error node: quadratic in the error for |err| <= clip and linear in
// the error beyond it:
//
//	0.5 * min(|err|, clip)^2 + clip * (|err| - min(|err|, clip))
//
// The cost is continuous at |err| == clip. The returned node has the
// same shape as err.
func ClippedQuadratic(err *G.Node, clip float64) (*G.Node, error) {
	clipNode := G.NewConstant(clip)
	half := G.NewConstant(0.5)

	abs, e := G.Abs(err)
	if e != nil {
		return nil, e
	}

	quadratic, e := Min(abs, clipNode)
	if e != nil {
		return nil, e
	}

	squared, e := G.Square(quadratic)
	if e != nil {
		return nil, e
	}
	quadraticCost, e := G.Mul(half, squared)
	if e != nil {
		return nil, e
	}

	linear, e := G.Sub(abs, quadratic)
	if e != nil {
		return nil, e
	}
	linearCost, e := G.Mul(clipNode, linear)
	if e != nil {
		return nil, e
	}

	return G.Add(quadraticCost, linearCost)
}
