package model

import (
	"math"

	"github.com/pkg/errors"
)

// BCEWithLogits computes the mean binary cross-entropy of a logit column
// against 0/1 targets and, when the graph records backprop, seeds the logit
// gradients with d(loss)/d(logit) = (sigmoid(z) - y) / n.
//
// Working in logit space keeps the gradient numerically stable; the
// log(1+exp) form below never overflows.
func BCEWithLogits(g *Graph, logits *Mat, targets []float64) (float64, error) {
	rows, cols := logits.W.Dims()
	if cols != 1 || rows != len(targets) {
		return 0, errors.Errorf("logits are %dx%d, targets have %d entries", rows, cols, len(targets))
	}

	n := float64(rows)
	var loss float64
	for i, y := range targets {
		z := logits.W.At(i, 0)
		// log(1 + e^-|z|) + max(z, 0) - z*y
		loss += math.Log1p(math.Exp(-math.Abs(z))) + math.Max(z, 0) - z*y
	}
	loss /= n

	g.push(func() {
		for i, y := range targets {
			z := logits.W.At(i, 0)
			logits.DW.Set(i, 0, logits.DW.At(i, 0)+(sigmoid(z)-y)/n)
		}
	})

	return loss, nil
}

// Probabilities applies the logistic function to each logit.
func Probabilities(logits []float64) []float64 {
	out := make([]float64, len(logits))
	for i, z := range logits {
		out[i] = sigmoid(z)
	}
	return out
}

// Threshold converts probabilities to booleans; ties at exactly the
// threshold count as pressed.
func Threshold(probs []float64, threshold float64) []bool {
	out := make([]bool, len(probs))
	for i, p := range probs {
		out[i] = p >= threshold
	}
	return out
}
