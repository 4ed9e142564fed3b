// Package model implements the autopilot networks: a small reverse-mode
// autograd graph over gonum matrices, a stacked GRU sequence classifier, a
// feedforward variant, the Adam optimizer and the multi-label BCE loss.
package model

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Mat is a matrix with an accumulated gradient of the same shape. Column
// vectors are R x 1.
type Mat struct {
	W  *mat.Dense
	DW *mat.Dense
}

// NewMat returns a zeroed R x C matrix with gradient storage.
func NewMat(rows, cols int) *Mat {
	return &Mat{
		W:  mat.NewDense(rows, cols, nil),
		DW: mat.NewDense(rows, cols, nil),
	}
}

// NewRandMat returns an R x C matrix with entries drawn from N(0, stddev).
func NewRandMat(rows, cols int, stddev float64, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.W.Set(i, j, rng.NormFloat64()*stddev)
		}
	}
	return m
}

// ColumnVector wraps a slice as an N x 1 matrix (copying the data).
func ColumnVector(values []float64) *Mat {
	m := NewMat(len(values), 1)
	for i, v := range values {
		m.W.Set(i, 0, v)
	}
	return m
}

// Dims returns the matrix shape.
func (m *Mat) Dims() (rows, cols int) {
	return m.W.Dims()
}

// Col returns column 0 as a fresh slice; convenient for R x 1 outputs.
func (m *Mat) Col() []float64 {
	rows, _ := m.W.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = m.W.At(i, 0)
	}
	return out
}

// ZeroGrad clears the accumulated gradient.
func (m *Mat) ZeroGrad() {
	m.DW.Zero()
}

// SetData replaces the matrix values from a row-major slice.
func (m *Mat) SetData(data []float64) error {
	rows, cols := m.W.Dims()
	if len(data) != rows*cols {
		return errors.Errorf("matrix is %dx%d, got %d values", rows, cols, len(data))
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.W.Set(i, j, data[i*cols+j])
		}
	}
	return nil
}

// Data returns the matrix values as a row-major slice copy.
func (m *Mat) Data() []float64 {
	rows, cols := m.W.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, m.W.At(i, j))
		}
	}
	return out
}

// zeroGrads clears gradients for every named parameter.
func zeroGrads(params map[string]*Mat) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
