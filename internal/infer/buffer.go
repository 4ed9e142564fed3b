// Package infer provides online inference for the autopilot service: the
// observation sequence buffer that turns a stream of raw sensor readings into
// fixed-length model inputs, and the engine that owns the loaded network and
// one buffer per driving session.
package infer

import (
	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
)

// ErrBadArity reports a sensor or action vector of the wrong width.
var ErrBadArity = errors.New("input vector has wrong arity")

// SequenceBuffer keeps the last N observations of one driving session and
// assembles them into model-ready sequences. An observation is the 6 raw
// sensor values followed by the previous thresholded prediction, width 10.
//
// During cold start, when fewer than N observations have arrived, the
// sequence is left-padded by repeating the earliest real observation. The
// padding is a constant-history assumption: before the session started,
// nothing changed. Zero-padding would instead feed the model inputs it never
// saw in training.
//
// A buffer is single-session state. Callers serve concurrent sessions with
// one buffer each; the engine serializes calls per session.
type SequenceBuffer struct {
	capacity   int
	window     [][]float64
	prevAction [dataset.ActionWidth]float64
}

// NewSequenceBuffer returns an empty buffer holding at most capacity
// observations.
func NewSequenceBuffer(capacity int) (*SequenceBuffer, error) {
	if capacity < 1 {
		return nil, errors.Errorf("sequence buffer capacity must be at least 1, got %d", capacity)
	}
	return &SequenceBuffer{
		capacity: capacity,
		window:   make([][]float64, 0, capacity),
	}, nil
}

// Capacity returns the fixed window size N.
func (b *SequenceBuffer) Capacity() int { return b.capacity }

// Len returns the number of real observations currently held.
func (b *SequenceBuffer) Len() int { return len(b.window) }

// PrevAction returns a copy of the previous-action feedback vector.
func (b *SequenceBuffer) PrevAction() []float64 {
	out := make([]float64, dataset.ActionWidth)
	copy(out, b.prevAction[:])
	return out
}

// Reset clears the window and the previous-action vector. Safe to call any
// number of times; a reset buffer behaves exactly like a fresh one.
func (b *SequenceBuffer) Reset() {
	b.window = b.window[:0]
	b.prevAction = [dataset.ActionWidth]float64{}
}

// IngestAndBuild appends one raw sensor reading, composed with the current
// previous-action vector, and returns the full length-N sequence with
// cold-start padding applied. The returned slices are copies; mutating them
// does not affect buffer state. Raw input of the wrong width leaves the
// buffer unchanged.
func (b *SequenceBuffer) IngestAndBuild(raw []float64) ([][]float64, error) {
	if len(raw) != dataset.RawWidth {
		return nil, errors.Wrapf(ErrBadArity, "want %d sensor values, got %d", dataset.RawWidth, len(raw))
	}

	obs := make([]float64, dataset.ObservationWidth)
	copy(obs, raw)
	copy(obs[dataset.RawWidth:], b.prevAction[:])

	if len(b.window) == b.capacity {
		copy(b.window, b.window[1:])
		b.window[len(b.window)-1] = obs
	} else {
		b.window = append(b.window, obs)
	}

	seq := make([][]float64, b.capacity)
	pad := b.capacity - len(b.window)
	for i := 0; i < pad; i++ {
		seq[i] = copyObservation(b.window[0])
	}
	for i, o := range b.window {
		seq[pad+i] = copyObservation(o)
	}
	return seq, nil
}

// RecordPrediction thresholds the predicted probabilities and stores the
// resulting binary vector as the previous action for the next observation.
// A probability exactly equal to the threshold counts as pressed.
func (b *SequenceBuffer) RecordPrediction(probs []float64, threshold float64) error {
	if len(probs) != dataset.ActionWidth {
		return errors.Wrapf(ErrBadArity, "want %d probabilities, got %d", dataset.ActionWidth, len(probs))
	}
	for i, pressed := range model.Threshold(probs, threshold) {
		if pressed {
			b.prevAction[i] = 1
		} else {
			b.prevAction[i] = 0
		}
	}
	return nil
}

func copyObservation(obs []float64) []float64 {
	out := make([]float64, len(obs))
	copy(out, obs)
	return out
}
