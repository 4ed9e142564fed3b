// Package train runs the supervised training loop for the autopilot
// networks: shuffled minibatches, BCE-with-logits, Adam updates, per-key
// accuracy, a validation pass per epoch and best-checkpoint saving.
package train

import (
	"log"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/psmyrdek/autodrive/internal/checkpoint"
	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
	"github.com/psmyrdek/autodrive/internal/track"
)

// Checkpoint file names inside the output directory.
const (
	BestCheckpoint  = "best_model.json"
	FinalCheckpoint = "final_model.json"
)

// Options configures a training run.
type Options struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	WeightDecay  float64
	GradClip     float64 // per-entry clamp; 0 disables
	Threshold    float64 // accuracy threshold
	Seed         int64
	OutputDir    string
	Run          *track.Run // nil means no tracking
}

func (o *Options) fill() {
	if o.Epochs <= 0 {
		o.Epochs = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.LearningRate == 0 {
		o.LearningRate = 0.001
	}
	if o.Threshold == 0 {
		o.Threshold = 0.5
	}
	if o.Run == nil {
		o.Run = track.NewDisabled()
	}
}

// Metrics summarizes one pass over a dataset.
type Metrics struct {
	Loss    float64
	Overall float64
	PerKey  [4]float64 // W, A, S, D accuracy
}

// Map flattens metrics for the run tracker.
func (m Metrics) Map() map[string]float64 {
	return map[string]float64{
		"loss":       m.Loss,
		"accuracy":   m.Overall,
		"w_accuracy": m.PerKey[0],
		"a_accuracy": m.PerKey[1],
		"s_accuracy": m.PerKey[2],
		"d_accuracy": m.PerKey[3],
	}
}

// forwardFn abstracts over the two architectures so the loop is shared.
type forwardFn func(g *model.Graph, i int, rng *rand.Rand) (*model.Mat, error)

// GRU trains a recurrent network on sequence data and returns the best
// validation loss. Checkpoints land in opts.OutputDir.
func GRU(net *model.GRU, trainS [][][]float64, trainL [][]float64, valS [][][]float64, valL [][]float64, nz *dataset.Normalizer, opts Options) (float64, error) {
	opts.fill()
	if len(trainS) != len(trainL) {
		return 0, errors.Errorf("train sequences and labels differ: %d != %d", len(trainS), len(trainL))
	}

	save := func(path string) error { return checkpoint.SaveGRU(path, net, nz) }
	trainForward := func(g *model.Graph, i int, rng *rand.Rand) (*model.Mat, error) {
		return net.Forward(g, trainS[i], rng)
	}
	valForward := func(g *model.Graph, i int, _ *rand.Rand) (*model.Mat, error) {
		return net.Forward(g, valS[i], nil)
	}

	return loop(net.Params(), len(trainS), trainL, len(valS), valL, trainForward, valForward, save, opts)
}

// MLP trains the feedforward variant on single frames.
func MLP(net *model.MLP, trainF, trainL, valF, valL [][]float64, nz *dataset.Normalizer, opts Options) (float64, error) {
	opts.fill()
	if len(trainF) != len(trainL) {
		return 0, errors.Errorf("train frames and labels differ: %d != %d", len(trainF), len(trainL))
	}

	save := func(path string) error { return checkpoint.SaveMLP(path, net, nz) }
	trainForward := func(g *model.Graph, i int, rng *rand.Rand) (*model.Mat, error) {
		return net.Forward(g, trainF[i], rng)
	}
	valForward := func(g *model.Graph, i int, _ *rand.Rand) (*model.Mat, error) {
		return net.Forward(g, valF[i], nil)
	}

	return loop(net.Params(), len(trainF), trainL, len(valF), valL, trainForward, valForward, save, opts)
}

func loop(params map[string]*model.Mat, trainN int, trainL [][]float64, valN int, valL [][]float64, trainForward, valForward forwardFn, save func(string) error, opts Options) (float64, error) {
	solver := model.NewAdam(opts.LearningRate, opts.WeightDecay)
	rng := rand.New(rand.NewSource(opts.Seed))
	bestValLoss := math.Inf(1)

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		trainMetrics, err := trainEpoch(params, trainN, trainL, trainForward, solver, rng, opts)
		if err != nil {
			return 0, errors.Wrapf(err, "epoch %d", epoch)
		}

		valMetrics, err := evaluate(valN, valL, valForward, opts.Threshold)
		if err != nil {
			return 0, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		log.Printf("epoch %d/%d train loss=%.4f acc=%.3f | val loss=%.4f acc=%.3f",
			epoch, opts.Epochs, trainMetrics.Loss, trainMetrics.Overall, valMetrics.Loss, valMetrics.Overall)

		opts.Run.LogTrain(epoch, trainMetrics.Map())
		opts.Run.LogVal(epoch, valMetrics.Map())

		if valMetrics.Loss < bestValLoss {
			bestValLoss = valMetrics.Loss
			if err := save(filepath.Join(opts.OutputDir, BestCheckpoint)); err != nil {
				return 0, errors.Wrap(err, "saving best checkpoint")
			}
			log.Printf("saved best model (val_loss=%.4f)", bestValLoss)
		}
	}

	if err := save(filepath.Join(opts.OutputDir, FinalCheckpoint)); err != nil {
		return 0, errors.Wrap(err, "saving final checkpoint")
	}

	opts.Run.SetSummary("best_val_loss", bestValLoss)
	return bestValLoss, nil
}

func trainEpoch(params map[string]*model.Mat, n int, labels [][]float64, forward forwardFn, solver *model.Adam, rng *rand.Rand, opts Options) (Metrics, error) {
	perm := rng.Perm(n)
	var acc accumulator

	for start := 0; start < n; start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > n {
			end = n
		}

		for _, idx := range perm[start:end] {
			g := model.NewGraph(true)
			logits, err := forward(g, idx, rng)
			if err != nil {
				return Metrics{}, err
			}
			loss, err := model.BCEWithLogits(g, logits, labels[idx])
			if err != nil {
				return Metrics{}, err
			}
			g.Backward()
			acc.add(loss, model.Probabilities(logits.Col()), labels[idx], opts.Threshold)
		}

		// Gradients accumulate over the whole minibatch; one Adam step
		// consumes and clears them.
		solver.Step(params, opts.GradClip)
	}

	return acc.metrics(), nil
}

func evaluate(n int, labels [][]float64, forward forwardFn, threshold float64) (Metrics, error) {
	var acc accumulator
	for i := 0; i < n; i++ {
		g := model.NewGraph(false)
		logits, err := forward(g, i, nil)
		if err != nil {
			return Metrics{}, err
		}
		loss, err := model.BCEWithLogits(g, logits, labels[i])
		if err != nil {
			return Metrics{}, err
		}
		acc.add(loss, model.Probabilities(logits.Col()), labels[i], threshold)
	}
	return acc.metrics(), nil
}

type accumulator struct {
	samples  int
	loss     float64
	correct  [4]int
	compared [4]int
}

func (a *accumulator) add(loss float64, probs, labels []float64, threshold float64) {
	a.samples++
	a.loss += loss
	decisions := model.Threshold(probs, threshold)
	for k := 0; k < len(decisions) && k < 4 && k < len(labels); k++ {
		a.compared[k]++
		if decisions[k] == (labels[k] >= 0.5) {
			a.correct[k]++
		}
	}
}

func (a *accumulator) metrics() Metrics {
	var m Metrics
	if a.samples == 0 {
		return m
	}
	m.Loss = a.loss / float64(a.samples)

	var totalCorrect, totalCompared int
	for k := 0; k < 4; k++ {
		if a.compared[k] > 0 {
			m.PerKey[k] = float64(a.correct[k]) / float64(a.compared[k])
		}
		totalCorrect += a.correct[k]
		totalCompared += a.compared[k]
	}
	if totalCompared > 0 {
		m.Overall = float64(totalCorrect) / float64(totalCompared)
	}
	return m
}
