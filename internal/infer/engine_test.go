package infer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmyrdek/autodrive/internal/checkpoint"
	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
)

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	cfg := model.GRUConfig{InputSize: 10, HiddenSize: 6, NumLayers: 1, FCHidden: 4, OutputSize: 4}
	net, err := model.NewGRU(cfg, rand.New(rand.NewSource(21)))
	require.NoError(t, err)

	nz := &dataset.Normalizer{
		Mean: []float64{750, 750, 750, 750, 750, 5, 0, 0, 0, 0},
		Std:  []float64{300, 300, 300, 300, 300, 3, 1, 1, 1, 1},
	}
	eng, err := NewEngine(&checkpoint.Loaded{Kind: checkpoint.KindGRU, GRU: net, Normalizer: nz}, opts)
	require.NoError(t, err)
	return eng
}

func TestPredictReturnsBoundedProbabilities(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 4})

	pred, err := eng.Predict("", raw(700), 0)
	require.NoError(t, err)
	require.Len(t, pred.Probabilities, 4)
	require.Len(t, pred.Pressed, 4)
	assert.Equal(t, 0.5, pred.Threshold)
	for i, p := range pred.Probabilities {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		assert.Equal(t, p >= 0.5, pred.Pressed[i])
	}
}

func TestPredictIsDeterministicPerHistory(t *testing.T) {
	a := testEngine(t, Options{SeqLen: 4})
	b := testEngine(t, Options{SeqLen: 4})

	var pa, pb *Prediction
	var err error
	for _, v := range []float64{100, 200, 300} {
		pa, err = a.Predict("s", raw(v), 0)
		require.NoError(t, err)
		pb, err = b.Predict("s", raw(v), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, pa.Probabilities, pb.Probabilities)
}

func TestSessionsAreIsolated(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 4})

	// Feed session "a" a long distinct history; "b" stays fresh.
	for _, v := range []float64{100, 1400, 200, 1300} {
		_, err := eng.Predict("a", raw(v), 0)
		require.NoError(t, err)
	}
	got, err := eng.Predict("b", raw(700), 0)
	require.NoError(t, err)

	fresh := testEngine(t, Options{SeqLen: 4})
	want, err := fresh.Predict("b", raw(700), 0)
	require.NoError(t, err)
	assert.Equal(t, want.Probabilities, got.Probabilities)
}

func TestResetClearsSessionState(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 3})

	first, err := eng.Predict("s", raw(400), 0)
	require.NoError(t, err)

	_, err = eng.Predict("s", raw(900), 0)
	require.NoError(t, err)

	eng.Reset("s")
	eng.Reset("s")             // idempotent
	eng.Reset("never-existed") // unknown session is a no-op

	again, err := eng.Predict("s", raw(400), 0)
	require.NoError(t, err)
	assert.Equal(t, first.Probabilities, again.Probabilities)
}

func TestPredictStatelessMatchesSessionColdStart(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 4})

	samples := [][]float64{raw(100), raw(200)}
	stateless, err := eng.PredictStateless(samples, []float64{0, 0, 0, 0}, 0)
	require.NoError(t, err)

	// With an all-zero previous action the stateless path is exactly a
	// session cold start fed the same readings with no feedback recorded.
	buf, err := NewSequenceBuffer(4)
	require.NoError(t, err)
	var seq [][]float64
	for _, s := range samples {
		seq, err = buf.IngestAndBuild(s)
		require.NoError(t, err)
	}
	normalized, err := eng.normalizer.ApplySequence(seq)
	require.NoError(t, err)
	want, err := eng.gru.Predict(normalized)
	require.NoError(t, err)

	assert.Equal(t, want, stateless.Probabilities)
}

func TestPredictStatelessCarriesPrevAction(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 3})

	with, err := eng.PredictStateless([][]float64{raw(500)}, []float64{1, 0, 1, 1}, 0)
	require.NoError(t, err)
	without, err := eng.PredictStateless([][]float64{raw(500)}, nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, without.Probabilities, with.Probabilities)
}

func TestPredictStatelessValidation(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 3})

	_, err := eng.PredictStateless(nil, nil, 0)
	assert.ErrorIs(t, err, ErrBadArity)

	_, err = eng.PredictStateless([][]float64{raw(1)}, []float64{1, 0}, 0)
	assert.ErrorIs(t, err, ErrBadArity)

	_, err = eng.PredictStateless([][]float64{{1, 2}}, nil, 0)
	assert.ErrorIs(t, err, ErrBadArity)
}

func TestPredictBadArityLeavesSessionUsable(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 3})

	_, err := eng.Predict("s", []float64{1, 2}, 0)
	require.ErrorIs(t, err, ErrBadArity)

	first, err := eng.Predict("s", raw(600), 0)
	require.NoError(t, err)

	fresh := testEngine(t, Options{SeqLen: 3})
	want, err := fresh.Predict("s", raw(600), 0)
	require.NoError(t, err)
	assert.Equal(t, want.Probabilities, first.Probabilities)
}

func TestPruneIdleEvictsStaleSessions(t *testing.T) {
	now := time.Unix(1000, 0)
	eng := testEngine(t, Options{
		SeqLen:     3,
		SessionTTL: time.Minute,
		Clock:      func() time.Time { return now },
	})

	_, err := eng.Predict("old", raw(100), 0)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = eng.Predict("young", raw(100), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, eng.PruneIdle())
	assert.Equal(t, 1, eng.ModelInfo().Sessions)
}

func TestModelInfo(t *testing.T) {
	eng := testEngine(t, Options{SeqLen: 7, Threshold: 0.4})
	info := eng.ModelInfo()
	assert.Equal(t, checkpoint.KindGRU, info.Kind)
	assert.Equal(t, 7, info.SeqLen)
	assert.Equal(t, 0.4, info.Threshold)
	assert.True(t, info.Normalized)
	assert.Equal(t, 0, info.Sessions)
}

func TestNewEngineRequiresModel(t *testing.T) {
	_, err := NewEngine(nil, Options{})
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	_, err = NewEngine(&checkpoint.Loaded{Kind: checkpoint.KindGRU}, Options{})
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}
