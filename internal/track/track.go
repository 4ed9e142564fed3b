// Package track records training runs on local disk: one directory per run
// holding the run configuration and a JSONL stream of metrics. It is the
// hosted-experiment-tracker integration's stand-in and follows the same
// contract: optional, and never allowed to fail a training run.
package track

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Run is a metric sink for one training run. The zero value (or a Run from
// NewDisabled) drops everything.
type Run struct {
	mu      sync.Mutex
	enabled bool
	dir     string
	metrics *os.File
	summary map[string]interface{}
}

// NewDisabled returns a run that silently discards all metrics.
func NewDisabled() *Run {
	return &Run{}
}

// New creates a run directory under baseDir, named after the run name and
// start time, and records the given configuration. On any setup failure it
// logs a warning and returns a disabled run; training proceeds regardless.
func New(baseDir, name string, config interface{}) *Run {
	if name == "" {
		name = "run"
	}
	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%s", name, time.Now().Format("20060102-150405")))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("warning: run tracking disabled: %v", err)
		return NewDisabled()
	}

	if config != nil {
		data, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			err = os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
		}
		if err != nil {
			log.Printf("warning: could not record run config: %v", err)
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, "metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("warning: run tracking disabled: %v", err)
		return NewDisabled()
	}

	return &Run{enabled: true, dir: dir, metrics: f, summary: make(map[string]interface{})}
}

// Dir returns the run directory, or "" for a disabled run.
func (r *Run) Dir() string { return r.dir }

// Log writes one metric record at the given step.
func (r *Run) Log(step int, metrics map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	record := map[string]interface{}{"step": step, "ts": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range metrics {
		record[k] = v
	}
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("warning: failed to marshal metrics: %v", err)
		return
	}
	if _, err := r.metrics.Write(append(data, '\n')); err != nil {
		log.Printf("warning: failed to write metrics: %v", err)
	}
}

// LogTrain logs epoch metrics under the train/ prefix.
func (r *Run) LogTrain(epoch int, metrics map[string]float64) {
	r.Log(epoch, prefixed("train/", metrics))
}

// LogVal logs epoch metrics under the val/ prefix.
func (r *Run) LogVal(epoch int, metrics map[string]float64) {
	r.Log(epoch, prefixed("val/", metrics))
}

// SetSummary records a final summary value, written on Close.
func (r *Run) SetSummary(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	r.summary[key] = value
}

// Close flushes the summary and closes the metric stream.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil
	}
	r.enabled = false

	if len(r.summary) > 0 {
		data, err := json.MarshalIndent(r.summary, "", "  ")
		if err == nil {
			err = os.WriteFile(filepath.Join(r.dir, "summary.json"), data, 0o644)
		}
		if err != nil {
			log.Printf("warning: could not write run summary: %v", err)
		}
	}
	return r.metrics.Close()
}

func prefixed(prefix string, metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		out[prefix+k] = v
	}
	return out
}
