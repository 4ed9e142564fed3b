package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer with optional decoupled weight decay.
// Moment estimates are keyed by parameter name, so one solver serves a whole
// network.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	step int
	m    map[string]*mat.Dense
	v    map[string]*mat.Dense
}

// NewAdam returns a solver with the usual defaults for the betas and epsilon.
func NewAdam(learningRate, weightDecay float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
		m:            make(map[string]*mat.Dense),
		v:            make(map[string]*mat.Dense),
	}
}

// Step applies one update from the accumulated gradients and then clears
// them. clip > 0 clamps each gradient entry to [-clip, clip] first.
func (a *Adam) Step(params map[string]*Mat, clip float64) {
	a.step++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for name, p := range params {
		rows, cols := p.W.Dims()
		if a.m[name] == nil {
			a.m[name] = mat.NewDense(rows, cols, nil)
			a.v[name] = mat.NewDense(rows, cols, nil)
		}
		m, v := a.m[name], a.v[name]

		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				grad := p.DW.At(i, j)
				if clip > 0 {
					if grad > clip {
						grad = clip
					} else if grad < -clip {
						grad = -clip
					}
				}

				mij := a.Beta1*m.At(i, j) + (1-a.Beta1)*grad
				vij := a.Beta2*v.At(i, j) + (1-a.Beta2)*grad*grad
				m.Set(i, j, mij)
				v.Set(i, j, vij)

				update := a.LearningRate * (mij / correction1) / (math.Sqrt(vij/correction2) + a.Epsilon)
				w := p.W.At(i, j)
				if a.WeightDecay > 0 {
					w -= a.LearningRate * a.WeightDecay * w
				}
				p.W.Set(i, j, w-update)
			}
		}
		p.ZeroGrad()
	}
}
