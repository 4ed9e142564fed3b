package infer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/checkpoint"
	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
)

// ErrModelNotLoaded reports a prediction attempt before a checkpoint was
// loaded into the engine.
var ErrModelNotLoaded = errors.New("no model loaded")

// DefaultSession is the session key used when a request carries none. The
// single-simulator case never needs to mint session IDs.
const DefaultSession = "default"

// DefaultSessionTTL is how long an idle session keeps its buffer before the
// janitor drops it.
const DefaultSessionTTL = 10 * time.Minute

// Prediction is one inference result: raw probabilities plus their
// thresholded press decisions, ordered forward, left, brake, right.
type Prediction struct {
	Probabilities []float64
	Pressed       []bool
	Threshold     float64
}

// Info describes the loaded model for the model-info endpoint.
type Info struct {
	Kind       string  `json:"kind"`
	SeqLen     int     `json:"seqLen"`
	Threshold  float64 `json:"threshold"`
	Normalized bool    `json:"normalized"`
	Sessions   int     `json:"sessions"`
}

// Options tunes an Engine.
type Options struct {
	SeqLen     int           // sequence length for the recurrent model
	Threshold  float64       // default decision threshold
	SessionTTL time.Duration // idle time before a session is evicted
	Clock      func() time.Time
}

type session struct {
	mu       sync.Mutex
	buf      *SequenceBuffer
	lastUsed time.Time
}

// Engine serves predictions from a loaded checkpoint. It keeps one sequence
// buffer per driving session; calls for the same session are serialized,
// distinct sessions predict concurrently.
type Engine struct {
	kind       string
	gru        *model.GRU
	mlp        *model.MLP
	normalizer *dataset.Normalizer

	seqLen    int
	threshold float64
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine wraps a loaded checkpoint. A nil normalizer in the checkpoint is
// accepted; Normalized reports it so the caller can log a warning instead of
// silently predicting on raw-scale inputs.
func NewEngine(loaded *checkpoint.Loaded, opts Options) (*Engine, error) {
	if loaded == nil || (loaded.GRU == nil && loaded.MLP == nil) {
		return nil, ErrModelNotLoaded
	}
	if opts.SeqLen <= 0 {
		opts.SeqLen = 10
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.5
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		kind:       loaded.Kind,
		gru:        loaded.GRU,
		mlp:        loaded.MLP,
		normalizer: loaded.Normalizer,
		seqLen:     opts.SeqLen,
		threshold:  opts.Threshold,
		ttl:        opts.SessionTTL,
		now:        opts.Clock,
		sessions:   make(map[string]*session),
	}, nil
}

// Normalized reports whether the checkpoint carried a normalization record.
func (e *Engine) Normalized() bool { return e.normalizer != nil }

// DefaultThreshold returns the engine-wide decision threshold.
func (e *Engine) DefaultThreshold() float64 { return e.threshold }

// ModelInfo describes the loaded model and current session count.
func (e *Engine) ModelInfo() Info {
	e.mu.Lock()
	n := len(e.sessions)
	e.mu.Unlock()
	return Info{
		Kind:       e.kind,
		SeqLen:     e.seqLen,
		Threshold:  e.threshold,
		Normalized: e.normalizer != nil,
		Sessions:   n,
	}
}

// Predict runs one inference step for a session. The raw reading enters the
// session's buffer, the padded sequence is normalized and evaluated, and on
// success the thresholded result becomes the session's previous-action
// feedback. A failed evaluation records no feedback. Empty sessionID means
// DefaultSession; threshold <= 0 means the engine default.
func (e *Engine) Predict(sessionID string, raw []float64, threshold float64) (*Prediction, error) {
	if threshold <= 0 {
		threshold = e.threshold
	}
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.buf.IngestAndBuild(raw)
	if err != nil {
		return nil, err
	}

	probs, err := e.evaluate(seq)
	if err != nil {
		return nil, err
	}
	if err := s.buf.RecordPrediction(probs, threshold); err != nil {
		return nil, err
	}

	return &Prediction{
		Probabilities: probs,
		Pressed:       model.Threshold(probs, threshold),
		Threshold:     threshold,
	}, nil
}

// PredictStateless evaluates a caller-supplied window without touching any
// session state. The caller tracks its own history: samples are raw 6-value
// readings oldest first, prevAction is the binary 4-vector composed into
// every sample. Short windows are left-padded like a cold-start buffer.
func (e *Engine) PredictStateless(samples [][]float64, prevAction []float64, threshold float64) (*Prediction, error) {
	if threshold <= 0 {
		threshold = e.threshold
	}
	if len(samples) == 0 {
		return nil, errors.Wrap(ErrBadArity, "need at least one sample")
	}
	if prevAction == nil {
		prevAction = make([]float64, dataset.ActionWidth)
	}
	if len(prevAction) != dataset.ActionWidth {
		return nil, errors.Wrapf(ErrBadArity, "want %d previous-action values, got %d", dataset.ActionWidth, len(prevAction))
	}

	buf, err := NewSequenceBuffer(e.seqLen)
	if err != nil {
		return nil, err
	}
	if err := buf.RecordPrediction(prevAction, 0.5); err != nil {
		return nil, err
	}

	var seq [][]float64
	for _, raw := range samples {
		seq, err = buf.IngestAndBuild(raw)
		if err != nil {
			return nil, err
		}
	}

	probs, err := e.evaluate(seq)
	if err != nil {
		return nil, err
	}
	return &Prediction{
		Probabilities: probs,
		Pressed:       model.Threshold(probs, threshold),
		Threshold:     threshold,
	}, nil
}

// Reset clears a session's buffer. Unknown sessions are a no-op; resetting
// twice is the same as resetting once.
func (e *Engine) Reset(sessionID string) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.buf.Reset()
	s.lastUsed = e.now()
	s.mu.Unlock()
}

// PruneIdle drops sessions idle longer than the TTL and returns how many.
func (e *Engine) PruneIdle() int {
	cutoff := e.now().Add(-e.ttl)
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := 0
	for id, s := range e.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(e.sessions, id)
			dropped++
		}
	}
	return dropped
}

// RunJanitor prunes idle sessions on the given interval until the context is
// canceled.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.PruneIdle()
		}
	}
}

func (e *Engine) session(id string) (*session, error) {
	if id == "" {
		id = DefaultSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		buf, err := NewSequenceBuffer(e.seqLen)
		if err != nil {
			return nil, err
		}
		s = &session{buf: buf}
		e.sessions[id] = s
	}
	s.lastUsed = e.now()
	return s, nil
}

// evaluate normalizes a full-length sequence and runs the loaded network.
// The feedforward model sees only the newest observation's sensor slice.
func (e *Engine) evaluate(seq [][]float64) ([]float64, error) {
	switch {
	case e.gru != nil:
		if e.normalizer != nil {
			normalized, err := e.normalizer.ApplySequence(seq)
			if err != nil {
				return nil, errors.Wrap(err, "normalizing sequence")
			}
			seq = normalized
		}
		return e.gru.Predict(seq)
	case e.mlp != nil:
		frame := seq[len(seq)-1][:dataset.RawWidth]
		if e.normalizer != nil {
			normalized, err := e.normalizer.Apply(frame)
			if err != nil {
				return nil, errors.Wrap(err, "normalizing frame")
			}
			frame = normalized
		}
		return e.mlp.Predict(frame)
	default:
		return nil, ErrModelNotLoaded
	}
}
