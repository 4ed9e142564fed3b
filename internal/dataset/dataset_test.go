package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmyrdek/autodrive/internal/telemetry"
)

func rec(l, ml, c, mr, r, speed float64, keys ...bool) telemetry.Record {
	out := telemetry.Record{
		LSensor: l, MLSensor: ml, CSensor: c, MRSensor: mr, RSensor: r, Speed: speed,
	}
	if len(keys) > 0 {
		out.WPressed = keys[0]
	}
	if len(keys) > 1 {
		out.APressed = keys[1]
	}
	if len(keys) > 2 {
		out.SPressed = keys[2]
	}
	if len(keys) > 3 {
		out.DPressed = keys[3]
	}
	return out
}

func TestFrames(t *testing.T) {
	sessions := []telemetry.Session{{
		Name: "s1",
		Records: []telemetry.Record{
			rec(1, 2, 3, 4, 5, 6, true),
			rec(7, 8, 9, 10, 11, 12, false, true),
			rec(13, 14, 15, 16, 17, 18, false, false, true),
		},
	}}

	features, labels := Frames(sessions)
	require.Len(t, features, 2)

	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, features[0])
	// Label is the key state of the following record.
	assert.Equal(t, []float64{0, 1, 0, 0}, labels[0])
	assert.Equal(t, []float64{0, 0, 1, 0}, labels[1])
}

func TestSequencesPrevActionThreading(t *testing.T) {
	sessions := []telemetry.Session{{
		Name: "s1",
		Records: []telemetry.Record{
			rec(1, 1, 1, 1, 1, 1, true),              // keys [1,0,0,0]
			rec(2, 2, 2, 2, 2, 2, false, true),       // keys [0,1,0,0]
			rec(3, 3, 3, 3, 3, 3, false, false, true), // keys [0,0,1,0] -> label of window [0,1]
		},
	}}

	sequences, labels, err := Sequences(sessions, 2)
	require.NoError(t, err)
	require.Len(t, sequences, 1)

	seq := sequences[0]
	// First timestep of a window at session start has zero previous action.
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 0, 0, 0, 0}, seq[0])
	// Second timestep carries the first record's key state.
	assert.Equal(t, []float64{2, 2, 2, 2, 2, 2, 1, 0, 0, 0}, seq[1])
	assert.Equal(t, []float64{0, 0, 1, 0}, labels[0])
}

func TestSequencesWindowNotAtStart(t *testing.T) {
	sessions := []telemetry.Session{{
		Name: "s1",
		Records: []telemetry.Record{
			rec(1, 1, 1, 1, 1, 1, true, true, true, true),
			rec(2, 2, 2, 2, 2, 2),
			rec(3, 3, 3, 3, 3, 3),
			rec(4, 4, 4, 4, 4, 4, true),
		},
	}}

	sequences, _, err := Sequences(sessions, 2)
	require.NoError(t, err)
	require.Len(t, sequences, 2)

	// The first window starts at the session start: zero previous action.
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 0, 0, 0, 0}, sequences[0][0])
	// The second window starts at record 1 and sees record 0's keys as the
	// previous action of its first timestep.
	assert.Equal(t, []float64{2, 2, 2, 2, 2, 2, 1, 1, 1, 1}, sequences[1][0])
	assert.Equal(t, []float64{3, 3, 3, 3, 3, 3, 0, 0, 0, 0}, sequences[1][1])
}

func TestSequencesSkipShortSessions(t *testing.T) {
	sessions := []telemetry.Session{
		{Name: "short", Records: []telemetry.Record{rec(1, 1, 1, 1, 1, 1)}},
		{Name: "long", Records: []telemetry.Record{
			rec(1, 1, 1, 1, 1, 1),
			rec(2, 2, 2, 2, 2, 2),
			rec(3, 3, 3, 3, 3, 3),
		}},
	}

	sequences, labels, err := Sequences(sessions, 2)
	require.NoError(t, err)
	assert.Len(t, sequences, 1)
	assert.Len(t, labels, 1)
}

func TestSequencesAllTooShort(t *testing.T) {
	sessions := []telemetry.Session{
		{Name: "short", Records: []telemetry.Record{rec(1, 1, 1, 1, 1, 1)}},
	}
	_, _, err := Sequences(sessions, 5)
	assert.Error(t, err)
}

func TestSplitReproducible(t *testing.T) {
	var features, labels [][]float64
	for i := 0; i < 10; i++ {
		features = append(features, []float64{float64(i)})
		labels = append(labels, []float64{float64(i)})
	}

	trainF1, _, valF1, _, err := Split(features, labels, 0.2, 42)
	require.NoError(t, err)
	trainF2, _, valF2, _, err := Split(features, labels, 0.2, 42)
	require.NoError(t, err)

	assert.Equal(t, trainF1, trainF2)
	assert.Equal(t, valF1, valF2)
	assert.Len(t, trainF1, 8)
	assert.Len(t, valF1, 2)
}

func TestSplitMismatch(t *testing.T) {
	_, _, _, _, err := Split([][]float64{{1}}, nil, 0.2, 1)
	assert.Error(t, err)
}
