package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Graph records the forward pass and replays it backwards to accumulate
// gradients. When backprop is false the backward closures are skipped
// entirely, which is the inference path.
type Graph struct {
	backprop bool
	stack    []func()
}

// NewGraph returns a graph; pass backprop=true when training.
func NewGraph(backprop bool) *Graph {
	return &Graph{backprop: backprop}
}

// Backward runs all recorded backward steps in reverse order.
func (g *Graph) Backward() {
	for i := len(g.stack) - 1; i >= 0; i-- {
		g.stack[i]()
	}
	g.stack = g.stack[:0]
}

func (g *Graph) push(f func()) {
	if g.backprop {
		g.stack = append(g.stack, f)
	}
}

// Mul is matrix multiplication a*b.
func (g *Graph) Mul(a, b *Mat) *Mat {
	ar, _ := a.W.Dims()
	_, bc := b.W.Dims()
	out := NewMat(ar, bc)
	out.W.Mul(a.W, b.W)

	g.push(func() {
		// dA += dOut * B^T ; dB += A^T * dOut
		var da, db mat.Dense
		da.Mul(out.DW, b.W.T())
		db.Mul(a.W.T(), out.DW)
		a.DW.Add(a.DW, &da)
		b.DW.Add(b.DW, &db)
	})
	return out
}

// Add is elementwise addition of same-shaped matrices.
func (g *Graph) Add(a, b *Mat) *Mat {
	r, c := a.W.Dims()
	out := NewMat(r, c)
	out.W.Add(a.W, b.W)

	g.push(func() {
		a.DW.Add(a.DW, out.DW)
		b.DW.Add(b.DW, out.DW)
	})
	return out
}

// Eltmul is the elementwise (Hadamard) product.
func (g *Graph) Eltmul(a, b *Mat) *Mat {
	r, c := a.W.Dims()
	out := NewMat(r, c)
	out.W.MulElem(a.W, b.W)

	g.push(func() {
		var da, db mat.Dense
		da.MulElem(out.DW, b.W)
		db.MulElem(out.DW, a.W)
		a.DW.Add(a.DW, &da)
		b.DW.Add(b.DW, &db)
	})
	return out
}

// OneMinus computes 1 - a elementwise.
func (g *Graph) OneMinus(a *Mat) *Mat {
	r, c := a.W.Dims()
	out := NewMat(r, c)
	out.W.Apply(func(_, _ int, v float64) float64 { return 1 - v }, a.W)

	g.push(func() {
		a.DW.Sub(a.DW, out.DW)
	})
	return out
}

func (g *Graph) activation(a *Mat, fn func(float64) float64, deriv func(out float64) float64) *Mat {
	r, c := a.W.Dims()
	out := NewMat(r, c)
	out.W.Apply(func(_, _ int, v float64) float64 { return fn(v) }, a.W)

	g.push(func() {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				a.DW.Set(i, j, a.DW.At(i, j)+deriv(out.W.At(i, j))*out.DW.At(i, j))
			}
		}
	})
	return out
}

// Sigmoid applies the logistic function elementwise.
func (g *Graph) Sigmoid(a *Mat) *Mat {
	return g.activation(a, sigmoid, func(out float64) float64 { return out * (1 - out) })
}

// Tanh applies tanh elementwise.
func (g *Graph) Tanh(a *Mat) *Mat {
	return g.activation(a, math.Tanh, func(out float64) float64 { return 1 - out*out })
}

// Relu applies max(0, x) elementwise.
func (g *Graph) Relu(a *Mat) *Mat {
	r, c := a.W.Dims()
	out := NewMat(r, c)
	out.W.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, a.W)

	g.push(func() {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if out.W.At(i, j) > 0 {
					a.DW.Set(i, j, a.DW.At(i, j)+out.DW.At(i, j))
				}
			}
		}
	})
	return out
}

// Dropout zeroes entries with probability p and scales survivors by 1/(1-p)
// (inverted dropout). With a nil rng or p <= 0 it is the identity, which is
// the inference path.
func (g *Graph) Dropout(a *Mat, p float64, rng *rand.Rand) *Mat {
	if rng == nil || p <= 0 {
		return a
	}
	r, c := a.W.Dims()
	out := NewMat(r, c)
	mask := mat.NewDense(r, c, nil)
	scale := 1 / (1 - p)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() >= p {
				mask.Set(i, j, scale)
			}
		}
	}
	out.W.MulElem(a.W, mask)

	g.push(func() {
		var da mat.Dense
		da.MulElem(out.DW, mask)
		a.DW.Add(a.DW, &da)
	})
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
