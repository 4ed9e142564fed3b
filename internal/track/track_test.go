package track

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWritesConfigAndMetrics(t *testing.T) {
	base := t.TempDir()
	run := New(base, "gru", map[string]int{"epochs": 3})
	require.NotEmpty(t, run.Dir())

	run.LogTrain(1, map[string]float64{"loss": 0.5})
	run.LogVal(1, map[string]float64{"loss": 0.6})
	run.SetSummary("best_val_loss", 0.6)
	require.NoError(t, run.Close())

	_, err := os.Stat(filepath.Join(run.Dir(), "config.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(run.Dir(), "summary.json"))
	assert.NoError(t, err)

	f, err := os.Open(filepath.Join(run.Dir(), "metrics.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &record))
		lines = append(lines, record)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, 0.5, lines[0]["train/loss"])
	assert.Equal(t, 0.6, lines[1]["val/loss"])
}

func TestDisabledRunIsSafe(t *testing.T) {
	run := NewDisabled()
	run.LogTrain(1, map[string]float64{"loss": 1})
	run.SetSummary("k", "v")
	assert.NoError(t, run.Close())
	assert.Empty(t, run.Dir())
}
