// Package telemetry defines the recorded driving-session data model and the
// store that loads session files from disk.
//
// Each JSON file under the telemetry directory holds one driving session: an
// ordered array of records sampled by the simulator while a human was
// driving. Sessions are kept separate so that downstream sequence building
// never stitches two unrelated drives together.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Sensor value bounds enforced by the simulator.
const (
	SensorMin = 0.0
	SensorMax = 1500.0
)

// Record is a single telemetry sample: five forward-facing distance sensors,
// the current speed, and the key state at that instant.
type Record struct {
	LSensor  float64 `json:"l_sensor_range"`
	MLSensor float64 `json:"ml_sensor_range"`
	CSensor  float64 `json:"c_sensor_range"`
	MRSensor float64 `json:"mr_sensor_range"`
	RSensor  float64 `json:"r_sensor_range"`
	Speed    float64 `json:"speed"`
	WPressed bool    `json:"w_pressed"`
	APressed bool    `json:"a_pressed"`
	SPressed bool    `json:"s_pressed"`
	DPressed bool    `json:"d_pressed"`
	Ts       int64   `json:"ts,omitempty"`
}

// Sensors returns the six raw input values in canonical order.
func (r Record) Sensors() []float64 {
	return []float64{r.LSensor, r.MLSensor, r.CSensor, r.MRSensor, r.RSensor, r.Speed}
}

// Keys returns the key state as 0/1 indicators in W/A/S/D order.
func (r Record) Keys() []float64 {
	return []float64{b2f(r.WPressed), b2f(r.APressed), b2f(r.SPressed), b2f(r.DPressed)}
}

func b2f(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// Session is one contiguous drive, oldest record first.
type Session struct {
	Name    string
	Records []Record
}

// LoadDir reads every *.json file in dir as a separate session, sorted by
// file name for reproducibility.
func LoadDir(dir string) ([]Session, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(err, "telemetry directory %s not found", dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "globbing telemetry directory")
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no telemetry JSON files found in %s", dir)
	}
	sort.Strings(paths)

	sessions := make([]Session, 0, len(paths))
	for _, path := range paths {
		session, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// LoadFile reads a single session file.
func LoadFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, errors.Wrapf(err, "reading telemetry file %s", path)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return Session{}, errors.Wrapf(err, "parsing telemetry file %s", path)
	}

	return Session{
		Name:    filepath.Base(path),
		Records: records,
	}, nil
}

// Distribution is the per-key press rate over a set of sessions, used for
// training-time sanity logging.
type Distribution struct {
	Total int
	W     float64
	A     float64
	S     float64
	D     float64
}

// LabelDistribution computes the press rate of each key across all records.
func LabelDistribution(sessions []Session) Distribution {
	var d Distribution
	for _, s := range sessions {
		for _, r := range s.Records {
			d.Total++
			d.W += b2f(r.WPressed)
			d.A += b2f(r.APressed)
			d.S += b2f(r.SPressed)
			d.D += b2f(r.DPressed)
		}
	}
	if d.Total > 0 {
		n := float64(d.Total)
		d.W /= n
		d.A /= n
		d.S /= n
		d.D /= n
	}
	return d
}
