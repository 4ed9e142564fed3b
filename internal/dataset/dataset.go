// Package dataset turns recorded telemetry sessions into model-ready feature
// and label tensors, for both the feedforward (single-frame) and recurrent
// (sliding-window sequence) models.
package dataset

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/telemetry"
)

// Feature widths shared across the pipeline.
const (
	RawWidth         = 6  // 5 sensors + speed
	ActionWidth      = 4  // W/A/S/D indicators
	ObservationWidth = 10 // raw + previous action
)

// Frames builds single-timestep training pairs for the feedforward model.
// The feature row is the raw sensor state at record i; the label is the key
// state at record i+1, i.e. what the driver did given that state. The final
// record of each session has no successor and yields no frame.
func Frames(sessions []telemetry.Session) (features, labels [][]float64) {
	for _, s := range sessions {
		for i := 0; i+1 < len(s.Records); i++ {
			features = append(features, s.Records[i].Sensors())
			labels = append(labels, s.Records[i+1].Keys())
		}
	}
	return features, labels
}

// Sequences builds sliding-window sequence pairs for the recurrent model.
// Each item is seqLen consecutive observations from a single session; the
// label is the key state of the record immediately after the window. Each
// observation carries the previous record's key state as trailing
// previous-action features (zeros when the window starts at the beginning of
// a session). Windows never cross session boundaries, and sessions shorter
// than seqLen+1 records are skipped.
func Sequences(sessions []telemetry.Session, seqLen int) (sequences [][][]float64, labels [][]float64, err error) {
	if seqLen < 1 {
		return nil, nil, errors.Errorf("sequence length must be >= 1, got %d", seqLen)
	}

	for _, s := range sessions {
		if len(s.Records) < seqLen+1 {
			continue
		}

		for i := 0; i+seqLen < len(s.Records); i++ {
			seq := make([][]float64, 0, seqLen)
			for t := 0; t < seqLen; t++ {
				rec := s.Records[i+t]
				prev := make([]float64, ActionWidth)
				if i+t > 0 {
					prev = s.Records[i+t-1].Keys()
				}
				obs := append(rec.Sensors(), prev...)
				seq = append(seq, obs)
			}
			sequences = append(sequences, seq)
			labels = append(labels, s.Records[i+seqLen].Keys())
		}
	}

	if len(sequences) == 0 {
		return nil, nil, errors.Errorf("no session long enough to build %d-step sequences", seqLen)
	}
	return sequences, labels, nil
}

// Split partitions features/labels into train and validation sets using a
// seeded permutation, so runs are reproducible.
func Split(features, labels [][]float64, valFrac float64, seed int64) (trainF, trainL, valF, valL [][]float64, err error) {
	if len(features) != len(labels) {
		return nil, nil, nil, nil, errors.Errorf("features and labels must have same length: %d != %d", len(features), len(labels))
	}
	if valFrac < 0 || valFrac >= 1 {
		return nil, nil, nil, nil, errors.Errorf("validation fraction must be in [0, 1), got %v", valFrac)
	}

	n := len(features)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	valSize := int(float64(n) * valFrac)
	trainSize := n - valSize

	for i, idx := range perm {
		if i < trainSize {
			trainF = append(trainF, features[idx])
			trainL = append(trainL, labels[idx])
		} else {
			valF = append(valF, features[idx])
			valL = append(valL, labels[idx])
		}
	}
	return trainF, trainL, valF, valL, nil
}

// SplitSequences is Split for sequence-shaped features.
func SplitSequences(sequences [][][]float64, labels [][]float64, valFrac float64, seed int64) (trainS [][][]float64, trainL [][]float64, valS [][][]float64, valL [][]float64, err error) {
	if len(sequences) != len(labels) {
		return nil, nil, nil, nil, errors.Errorf("sequences and labels must have same length: %d != %d", len(sequences), len(labels))
	}
	if valFrac < 0 || valFrac >= 1 {
		return nil, nil, nil, nil, errors.Errorf("validation fraction must be in [0, 1), got %v", valFrac)
	}

	n := len(sequences)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	valSize := int(float64(n) * valFrac)
	trainSize := n - valSize

	for i, idx := range perm {
		if i < trainSize {
			trainS = append(trainS, sequences[idx])
			trainL = append(trainL, labels[idx])
		} else {
			valS = append(valS, sequences[idx])
			valL = append(valL, labels[idx])
		}
	}
	return trainS, trainL, valS, valL, nil
}
