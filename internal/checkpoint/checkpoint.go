// Package checkpoint persists trained networks as JSON documents: the
// architecture kind and shape, every named parameter matrix, and the
// normalization record fitted on the training data.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
)

// Architecture kinds stored in the document.
const (
	KindGRU = "gru"
	KindMLP = "mlp"
)

// Param is one serialized weight matrix, row-major.
type Param struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Document is the on-disk checkpoint format.
type Document struct {
	Kind          string              `json:"kind"`
	GRUConfig     *model.GRUConfig    `json:"gru_config,omitempty"`
	MLPConfig     *model.MLPConfig    `json:"mlp_config,omitempty"`
	Params        map[string]Param    `json:"params"`
	Normalization *dataset.Normalizer `json:"normalization,omitempty"`
	SavedAt       time.Time           `json:"saved_at"`
}

// Loaded is a checkpoint reconstructed into a usable network. Exactly one of
// GRU/MLP is non-nil, matching Kind. Normalizer may be nil when the document
// carried no normalization record; callers must surface that rather than
// silently predicting on raw-scale inputs.
type Loaded struct {
	Kind       string
	GRU        *model.GRU
	MLP        *model.MLP
	Normalizer *dataset.Normalizer
}

// SaveGRU writes a GRU checkpoint. The normalizer may be nil.
func SaveGRU(path string, net *model.GRU, nz *dataset.Normalizer) error {
	cfg := net.Config()
	doc := Document{
		Kind:          KindGRU,
		GRUConfig:     &cfg,
		Params:        packParams(net.Params()),
		Normalization: nz,
		SavedAt:       time.Now().UTC(),
	}
	return writeDocument(path, doc)
}

// SaveMLP writes a feedforward checkpoint. The normalizer may be nil.
func SaveMLP(path string, net *model.MLP, nz *dataset.Normalizer) error {
	cfg := net.Config()
	doc := Document{
		Kind:          KindMLP,
		MLPConfig:     &cfg,
		Params:        packParams(net.Params()),
		Normalization: nz,
		SavedAt:       time.Now().UTC(),
	}
	return writeDocument(path, doc)
}

// Load reads a checkpoint and rebuilds the network it describes.
func Load(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %s", path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing checkpoint %s", path)
	}

	params, err := unpackParams(doc.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", path)
	}

	if doc.Normalization != nil {
		// Guard against unsanitized records from older training runs.
		doc.Normalization.Sanitize()
	}

	loaded := &Loaded{Kind: doc.Kind, Normalizer: doc.Normalization}
	switch doc.Kind {
	case KindGRU:
		if doc.GRUConfig == nil {
			return nil, errors.Errorf("checkpoint %s has kind %q but no gru_config", path, doc.Kind)
		}
		loaded.GRU, err = model.NewGRUFromParams(*doc.GRUConfig, params)
	case KindMLP:
		if doc.MLPConfig == nil {
			return nil, errors.Errorf("checkpoint %s has kind %q but no mlp_config", path, doc.Kind)
		}
		loaded.MLP, err = model.NewMLPFromParams(*doc.MLPConfig, params)
	default:
		return nil, errors.Errorf("checkpoint %s has unknown kind %q", path, doc.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "rebuilding network from %s", path)
	}

	return loaded, nil
}

func packParams(params map[string]*model.Mat) map[string]Param {
	out := make(map[string]Param, len(params))
	for name, m := range params {
		rows, cols := m.Dims()
		out[name] = Param{Rows: rows, Cols: cols, Data: m.Data()}
	}
	return out
}

func unpackParams(packed map[string]Param) (map[string]*model.Mat, error) {
	out := make(map[string]*model.Mat, len(packed))
	for name, p := range packed {
		if p.Rows < 1 || p.Cols < 1 {
			return nil, errors.Errorf("parameter %q has invalid shape %dx%d", name, p.Rows, p.Cols)
		}
		m := model.NewMat(p.Rows, p.Cols)
		if err := m.SetData(p.Data); err != nil {
			return nil, errors.Wrapf(err, "parameter %q", name)
		}
		out[name] = m
	}
	return out, nil
}

// writeDocument writes atomically: marshal to a temp file in the target
// directory, then rename over the destination.
func writeDocument(path string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshaling checkpoint")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return errors.Wrap(err, "creating temp checkpoint file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing checkpoint")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "renaming checkpoint into place at %s", path)
	}
	return nil
}
