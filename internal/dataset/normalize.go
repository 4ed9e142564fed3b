package dataset

import (
	"math"

	"github.com/pkg/errors"
)

// Normalizer holds the per-feature mean/std computed once from training data
// and persisted with the checkpoint. It is a pure transform: nothing here is
// recomputed per request.
type Normalizer struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitNormalizer computes per-feature mean and standard deviation over every
// row. Features that are constant in the training data (std == 0) get std 1
// so that later division is a no-op rather than a blow-up.
func FitNormalizer(rows [][]float64) (*Normalizer, error) {
	if len(rows) == 0 {
		return nil, errors.New("cannot fit normalizer on empty data")
	}

	width := len(rows[0])
	mean := make([]float64, width)
	std := make([]float64, width)

	for _, row := range rows {
		if len(row) != width {
			return nil, errors.Errorf("ragged row: want width %d, got %d", width, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return &Normalizer{Mean: mean, Std: std}, nil
}

// FitNormalizerSequences flattens (N, seqLen, width) to (N*seqLen, width)
// and fits across all timesteps, matching how training data is standardized.
func FitNormalizerSequences(sequences [][][]float64) (*Normalizer, error) {
	var rows [][]float64
	for _, seq := range sequences {
		rows = append(rows, seq...)
	}
	return FitNormalizer(rows)
}

// Sanitize replaces any zero std entries with 1. Applied after loading a
// checkpoint, since older checkpoints may carry unsanitized records.
func (nz *Normalizer) Sanitize() {
	for j, s := range nz.Std {
		if s == 0 {
			nz.Std[j] = 1
		}
	}
}

// Apply returns a standardized copy of row. The input is not mutated.
func (nz *Normalizer) Apply(row []float64) ([]float64, error) {
	if len(row) != len(nz.Mean) {
		return nil, errors.Errorf("normalizer width %d does not match row width %d", len(nz.Mean), len(row))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - nz.Mean[j]) / nz.Std[j]
	}
	return out, nil
}

// ApplyAll standardizes every row, returning fresh slices.
func (nz *Normalizer) ApplyAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		normalized, err := nz.Apply(row)
		if err != nil {
			return nil, err
		}
		out[i] = normalized
	}
	return out, nil
}

// ApplySequence standardizes every timestep of a sequence.
func (nz *Normalizer) ApplySequence(seq [][]float64) ([][]float64, error) {
	return nz.ApplyAll(seq)
}

// ApplySequences standardizes a batch of sequences.
func (nz *Normalizer) ApplySequences(sequences [][][]float64) ([][][]float64, error) {
	out := make([][][]float64, len(sequences))
	for i, seq := range sequences {
		normalized, err := nz.ApplyAll(seq)
		if err != nil {
			return nil, err
		}
		out[i] = normalized
	}
	return out, nil
}

// Invert undoes Apply for a single row.
func (nz *Normalizer) Invert(row []float64) ([]float64, error) {
	if len(row) != len(nz.Mean) {
		return nil, errors.Errorf("normalizer width %d does not match row width %d", len(nz.Mean), len(row))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*nz.Std[j] + nz.Mean[j]
	}
	return out, nil
}
