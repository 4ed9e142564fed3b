// Package augment enlarges a telemetry training set with mirrored and
// noise-perturbed copies. Augmentation runs on single-frame features (6 wide)
// and their labels before any sequence building.
package augment

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/telemetry"
)

// Options controls which augmentations Apply performs.
type Options struct {
	Mirror     bool
	Noise      bool
	NoiseLevel float64 // stddev in sensor units; 0 means DefaultNoiseLevel
	Seed       int64
}

// DefaultNoiseLevel is the Gaussian stddev applied to sensor readings, in the
// same units as the readings themselves.
const DefaultNoiseLevel = 2.0

// Mirror returns left/right-swapped copies: L<->R and ML<->MR sensor columns,
// A<->D label columns. Center sensor and speed are unchanged. Mirroring a
// mirrored set restores the original.
func Mirror(features, labels [][]float64) (mf, ml [][]float64, err error) {
	if len(features) != len(labels) {
		return nil, nil, errors.Errorf("features and labels must have same length: %d != %d", len(features), len(labels))
	}

	mf = make([][]float64, len(features))
	ml = make([][]float64, len(labels))
	for i := range features {
		f := features[i]
		l := labels[i]
		if len(f) != dataset.RawWidth || len(l) != dataset.ActionWidth {
			return nil, nil, errors.Errorf("row %d: want %dx%d, got %dx%d", i, dataset.RawWidth, dataset.ActionWidth, len(f), len(l))
		}
		mf[i] = []float64{f[4], f[3], f[2], f[1], f[0], f[5]}
		ml[i] = []float64{l[0], l[3], l[2], l[1]}
	}
	return mf, ml, nil
}

// SensorNoise returns copies of features with Gaussian noise on the five
// sensor columns, clamped to the simulator's valid range. Speed is left
// alone; it is not subject to measurement jitter.
func SensorNoise(features [][]float64, level float64, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(features))
	for i, f := range features {
		row := make([]float64, len(f))
		copy(row, f)
		for j := 0; j < 5 && j < len(row); j++ {
			row[j] += rng.NormFloat64() * level
			if row[j] < telemetry.SensorMin {
				row[j] = telemetry.SensorMin
			}
			if row[j] > telemetry.SensorMax {
				row[j] = telemetry.SensorMax
			}
		}
		out[i] = row
	}
	return out
}

// Apply concatenates the original data with the requested augmented copies:
// mirrored, noisy original, and noisy mirrored.
func Apply(features, labels [][]float64, opts Options) (af, al [][]float64, err error) {
	af = append(af, features...)
	al = append(al, labels...)

	level := opts.NoiseLevel
	if level == 0 {
		level = DefaultNoiseLevel
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	var mf, ml [][]float64
	if opts.Mirror {
		mf, ml, err = Mirror(features, labels)
		if err != nil {
			return nil, nil, err
		}
		af = append(af, mf...)
		al = append(al, ml...)
	}

	if opts.Noise {
		af = append(af, SensorNoise(features, level, rng)...)
		al = append(al, copyRows(labels)...)

		if opts.Mirror {
			af = append(af, SensorNoise(mf, level, rng)...)
			al = append(al, copyRows(ml)...)
		}
	}

	return af, al, nil
}

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		c := make([]float64, len(r))
		copy(c, r)
		out[i] = c
	}
	return out
}
