package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "b_session.json", `[
		{"l_sensor_range": 100, "ml_sensor_range": 200, "c_sensor_range": 300,
		 "mr_sensor_range": 400, "r_sensor_range": 500, "speed": 12.5,
		 "w_pressed": true, "a_pressed": false, "s_pressed": false, "d_pressed": true}
	]`)
	writeSession(t, dir, "a_session.json", `[]`)

	sessions, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Sorted by file name.
	assert.Equal(t, "a_session.json", sessions[0].Name)
	assert.Equal(t, "b_session.json", sessions[1].Name)

	rec := sessions[1].Records[0]
	assert.Equal(t, []float64{100, 200, 300, 400, 500, 12.5}, rec.Sensors())
	assert.Equal(t, []float64{1, 0, 0, 1}, rec.Keys())
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadDirEmpty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "broken.json", `{"not": "an array"}`)

	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLabelDistribution(t *testing.T) {
	sessions := []Session{{
		Name: "s",
		Records: []Record{
			{WPressed: true, APressed: true},
			{WPressed: true},
			{WPressed: true, DPressed: true},
			{},
		},
	}}

	d := LabelDistribution(sessions)
	assert.Equal(t, 4, d.Total)
	assert.InDelta(t, 0.75, d.W, 1e-12)
	assert.InDelta(t, 0.25, d.A, 1e-12)
	assert.InDelta(t, 0.0, d.S, 1e-12)
	assert.InDelta(t, 0.25, d.D, 1e-12)
}
