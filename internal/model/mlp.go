package model

import (
	"math/rand"

	"github.com/pkg/errors"
)

// MLPConfig describes the feedforward variant, which predicts from a single
// raw frame with no temporal context.
type MLPConfig struct {
	InputSize  int     `json:"input_size"`
	Hidden1    int     `json:"hidden1"`
	Hidden2    int     `json:"hidden2"`
	OutputSize int     `json:"output_size"`
	Dropout    float64 `json:"dropout"`
}

// DefaultMLPConfig is the small baseline: 6 raw inputs, two hidden layers.
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		InputSize:  6,
		Hidden1:    64,
		Hidden2:    32,
		OutputSize: 4,
		Dropout:    0.1,
	}
}

func (c MLPConfig) validate() error {
	if c.InputSize < 1 || c.Hidden1 < 1 || c.Hidden2 < 1 || c.OutputSize < 1 {
		return errors.Errorf("invalid MLP config: %+v", c)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	return nil
}

// MLP is a plain feedforward multi-label classifier.
type MLP struct {
	cfg    MLPConfig
	params map[string]*Mat
}

// NewMLP builds a feedforward network with random weights.
func NewMLP(cfg MLPConfig, rng *rand.Rand) (*MLP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	params := map[string]*Mat{
		"fc1.w": NewRandMat(cfg.Hidden1, cfg.InputSize, initStddev, rng),
		"fc1.b": NewMat(cfg.Hidden1, 1),
		"fc2.w": NewRandMat(cfg.Hidden2, cfg.Hidden1, initStddev, rng),
		"fc2.b": NewMat(cfg.Hidden2, 1),
		"fc3.w": NewRandMat(cfg.OutputSize, cfg.Hidden2, initStddev, rng),
		"fc3.b": NewMat(cfg.OutputSize, 1),
	}
	return &MLP{cfg: cfg, params: params}, nil
}

// NewMLPFromParams rebuilds the network around loaded parameters.
func NewMLPFromParams(cfg MLPConfig, params map[string]*Mat) (*MLP, error) {
	fresh, err := NewMLP(cfg, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	for name := range fresh.params {
		if _, ok := params[name]; !ok {
			return nil, errors.Errorf("checkpoint is missing parameter %q", name)
		}
	}
	for name := range params {
		if _, ok := fresh.params[name]; !ok {
			return nil, errors.Errorf("checkpoint has unexpected parameter %q", name)
		}
	}
	return &MLP{cfg: cfg, params: params}, nil
}

// Config returns the network shape.
func (n *MLP) Config() MLPConfig { return n.cfg }

// Params exposes the named parameters.
func (n *MLP) Params() map[string]*Mat { return n.params }

// Kind identifies the architecture in checkpoints.
func (n *MLP) Kind() string { return "mlp" }

// Forward computes logits for a single frame.
func (n *MLP) Forward(g *Graph, frame []float64, rng *rand.Rand) (*Mat, error) {
	if len(frame) != n.cfg.InputSize {
		return nil, errors.Errorf("want %d features, got %d", n.cfg.InputSize, len(frame))
	}

	x := ColumnVector(frame)
	h := g.Relu(g.Add(g.Mul(n.params["fc1.w"], x), n.params["fc1.b"]))
	h = g.Dropout(h, n.cfg.Dropout, rng)
	h = g.Relu(g.Add(g.Mul(n.params["fc2.w"], h), n.params["fc2.b"]))
	h = g.Dropout(h, n.cfg.Dropout, rng)
	return g.Add(g.Mul(n.params["fc3.w"], h), n.params["fc3.b"]), nil
}

// Predict returns per-key probabilities for a single frame.
func (n *MLP) Predict(frame []float64) ([]float64, error) {
	g := NewGraph(false)
	logits, err := n.Forward(g, frame, nil)
	if err != nil {
		return nil, err
	}
	return Probabilities(logits.Col()), nil
}
