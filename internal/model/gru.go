package model

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// GRUConfig mirrors the shape of the trained network and is persisted in
// checkpoints.
type GRUConfig struct {
	InputSize  int     `json:"input_size"`
	HiddenSize int     `json:"hidden_size"`
	NumLayers  int     `json:"num_layers"`
	FCHidden   int     `json:"fc_hidden"`
	OutputSize int     `json:"output_size"`
	Dropout    float64 `json:"dropout"`
}

// DefaultGRUConfig matches the trained autopilot: 10 input features, two
// 128-wide GRU layers, a 64-wide head and 4 key outputs.
func DefaultGRUConfig() GRUConfig {
	return GRUConfig{
		InputSize:  10,
		HiddenSize: 128,
		NumLayers:  2,
		FCHidden:   64,
		OutputSize: 4,
		Dropout:    0.1,
	}
}

func (c GRUConfig) validate() error {
	if c.InputSize < 1 || c.HiddenSize < 1 || c.NumLayers < 1 || c.FCHidden < 1 || c.OutputSize < 1 {
		return errors.Errorf("invalid GRU config: %+v", c)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	return nil
}

// GRU is a stacked gated recurrent network with a two-layer feedforward head.
// It consumes a fixed-length sequence of observations and emits one logit per
// key.
type GRU struct {
	cfg    GRUConfig
	params map[string]*Mat
}

const initStddev = 0.08

// NewGRU builds a network with randomly initialized weights.
func NewGRU(cfg GRUConfig, rng *rand.Rand) (*GRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	params := make(map[string]*Mat)
	for l := 0; l < cfg.NumLayers; l++ {
		in := cfg.InputSize
		if l > 0 {
			in = cfg.HiddenSize
		}
		for _, gate := range []string{"r", "z", "h"} {
			params[gruParam(l, "w", gate)] = NewRandMat(cfg.HiddenSize, in, initStddev, rng)
			params[gruParam(l, "u", gate)] = NewRandMat(cfg.HiddenSize, cfg.HiddenSize, initStddev, rng)
			params[gruParam(l, "b", gate)] = NewMat(cfg.HiddenSize, 1)
		}
	}
	params["fc1.w"] = NewRandMat(cfg.FCHidden, cfg.HiddenSize, initStddev, rng)
	params["fc1.b"] = NewMat(cfg.FCHidden, 1)
	params["fc2.w"] = NewRandMat(cfg.OutputSize, cfg.FCHidden, initStddev, rng)
	params["fc2.b"] = NewMat(cfg.OutputSize, 1)

	return &GRU{cfg: cfg, params: params}, nil
}

// NewGRUFromParams rebuilds a network around loaded parameters. The set of
// names must exactly match what NewGRU creates for the same config.
func NewGRUFromParams(cfg GRUConfig, params map[string]*Mat) (*GRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fresh, err := NewGRU(cfg, rand.New(rand.NewSource(0)))
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
	return &GRU{cfg: cfg, params: params}, nil
}

func gruParam(layer int, kind, gate string) string {
	return fmt.Sprintf("gru%d.%s%s", layer, kind, gate)
}

// Config returns the network shape.
func (n *GRU) Config() GRUConfig { return n.cfg }

// Params exposes the named parameters for optimization and checkpointing.
func (n *GRU) Params() map[string]*Mat { return n.params }

// Kind identifies the architecture in checkpoints.
func (n *GRU) Kind() string { return "gru" }

// Forward runs the network over one sequence and returns the output logits
// (OutputSize x 1). A non-nil rng enables dropout, which is the training
// path; inference passes nil.
func (n *GRU) Forward(g *Graph, seq [][]float64, rng *rand.Rand) (*Mat, error) {
	if len(seq) == 0 {
		return nil, errors.New("empty input sequence")
	}
	for t, obs := range seq {
		if len(obs) != n.cfg.InputSize {
			return nil, errors.Errorf("timestep %d: want %d features, got %d", t, n.cfg.InputSize, len(obs))
		}
	}

	// Hidden state starts at zero for every sequence; history lives in the
	// sequence itself, not in the network.
	hidden := make([]*Mat, n.cfg.NumLayers)
	for l := range hidden {
		hidden[l] = NewMat(n.cfg.HiddenSize, 1)
	}

	for _, obs := range seq {
		x := ColumnVector(obs)
		for l := 0; l < n.cfg.NumLayers; l++ {
			h := hidden[l]

			r := g.Sigmoid(g.Add(g.Add(g.Mul(n.params[gruParam(l, "w", "r")], x), g.Mul(n.params[gruParam(l, "u", "r")], h)), n.params[gruParam(l, "b", "r")]))
			z := g.Sigmoid(g.Add(g.Add(g.Mul(n.params[gruParam(l, "w", "z")], x), g.Mul(n.params[gruParam(l, "u", "z")], h)), n.params[gruParam(l, "b", "z")]))
			hc := g.Tanh(g.Add(g.Add(g.Mul(n.params[gruParam(l, "w", "h")], x), g.Mul(n.params[gruParam(l, "u", "h")], g.Eltmul(r, h))), n.params[gruParam(l, "b", "h")]))

			hidden[l] = g.Add(g.Eltmul(z, h), g.Eltmul(g.OneMinus(z), hc))
			x = hidden[l]
		}
	}

	last := hidden[n.cfg.NumLayers-1]
	fc := g.Relu(g.Add(g.Mul(n.params["fc1.w"], last), n.params["fc1.b"]))
	fc = g.Dropout(fc, n.cfg.Dropout, rng)
	logits := g.Add(g.Mul(n.params["fc2.w"], fc), n.params["fc2.b"])
	return logits, nil
}

// Predict runs inference over a sequence and returns per-key probabilities.
func (n *GRU) Predict(seq [][]float64) ([]float64, error) {
	g := NewGraph(false)
	logits, err := n.Forward(g, seq, nil)
	if err != nil {
		return nil, err
	}
	return Probabilities(logits.Col()), nil
}
