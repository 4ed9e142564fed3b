// Package main implements the autopilot training CLI. It loads recorded
// driving sessions, optionally augments them, fits the normalizer on the
// training split and trains either the recurrent or the feedforward model,
// writing best and final checkpoints to the output directory.
package main

import (
	"flag"
	"log"
	"math/rand"

	"github.com/psmyrdek/autodrive/internal/augment"
	"github.com/psmyrdek/autodrive/internal/dataset"
	"github.com/psmyrdek/autodrive/internal/model"
	"github.com/psmyrdek/autodrive/internal/telemetry"
	"github.com/psmyrdek/autodrive/internal/track"
	"github.com/psmyrdek/autodrive/internal/train"
)

func main() {
	var (
		dataDir     = flag.String("data", "data", "directory of per-session telemetry JSON files")
		outDir      = flag.String("out", "models", "output directory for checkpoints")
		arch        = flag.String("model", "gru", "architecture to train: gru or mlp")
		seqLen      = flag.Int("seq-len", 10, "sequence length for the recurrent model")
		hiddenSize  = flag.Int("hidden", 128, "GRU hidden size")
		numLayers   = flag.Int("layers", 2, "GRU layer count")
		epochs      = flag.Int("epochs", 50, "training epochs")
		batchSize   = flag.Int("batch", 32, "minibatch size")
		lr          = flag.Float64("lr", 0.001, "learning rate")
		weightDecay = flag.Float64("weight-decay", 0, "AdamW weight decay")
		gradClip    = flag.Float64("clip", 5, "per-entry gradient clamp, 0 disables")
		valFrac     = flag.Float64("val-frac", 0.2, "validation fraction")
		seed        = flag.Int64("seed", 42, "random seed")
		mirror      = flag.Bool("mirror", true, "add left-right mirrored sessions")
		noise       = flag.Bool("noise", false, "add sensor-noise augmented sessions")
		noiseLevel  = flag.Float64("noise-level", augment.DefaultNoiseLevel, "sensor noise standard deviation")
		trackDir    = flag.String("track-dir", "", "run-tracking directory, empty disables")
	)
	flag.Parse()

	sessions, err := telemetry.LoadDir(*dataDir)
	if err != nil {
		log.Fatalf("Failed to load telemetry: %v", err)
	}
	dist := telemetry.LabelDistribution(sessions)
	log.Printf("Loaded %d sessions, %d records (W=%.2f A=%.2f S=%.2f D=%.2f)",
		len(sessions), dist.Total, dist.W, dist.A, dist.S, dist.D)

	rng := rand.New(rand.NewSource(*seed))
	if *mirror {
		sessions = append(sessions, augment.MirrorSessions(sessions)...)
		log.Printf("Mirror augmentation: %d sessions", len(sessions))
	}
	if *noise {
		sessions = append(sessions, augment.NoiseSessions(sessions, *noiseLevel, rng)...)
		log.Printf("Noise augmentation: %d sessions", len(sessions))
	}

	run := track.NewDisabled()
	if *trackDir != "" {
		run = track.New(*trackDir, *arch, map[string]interface{}{
			"model":    *arch,
			"seq_len":  *seqLen,
			"epochs":   *epochs,
			"batch":    *batchSize,
			"lr":       *lr,
			"mirror":   *mirror,
			"noise":    *noise,
			"seed":     *seed,
			"sessions": len(sessions),
		})
	}
	defer func() {
		if err := run.Close(); err != nil {
			log.Printf("Error closing run tracker: %v", err)
		}
	}()

	opts := train.Options{
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		WeightDecay:  *weightDecay,
		GradClip:     *gradClip,
		Seed:         *seed,
		OutputDir:    *outDir,
		Run:          run,
	}

	var best float64
	switch *arch {
	case "gru":
		best, err = trainGRU(sessions, *seqLen, *hiddenSize, *numLayers, *valFrac, *seed, opts)
	case "mlp":
		best, err = trainMLP(sessions, *valFrac, *seed, opts)
	default:
		log.Fatalf("Unknown model architecture: %s", *arch)
	}
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	log.Printf("Training complete, best validation loss %.4f, checkpoints in %s", best, *outDir)
}

func trainGRU(sessions []telemetry.Session, seqLen, hiddenSize, numLayers int, valFrac float64, seed int64, opts train.Options) (float64, error) {
	sequences, labels, err := dataset.Sequences(sessions, seqLen)
	if err != nil {
		return 0, err
	}
	log.Printf("Built %d sequences of length %d", len(sequences), seqLen)

	trainS, trainL, valS, valL, err := dataset.SplitSequences(sequences, labels, valFrac, seed)
	if err != nil {
		return 0, err
	}
	log.Printf("Split: %d train, %d validation", len(trainS), len(valS))

	// The normalizer is fitted on the training split only.
	nz, err := dataset.FitNormalizerSequences(trainS)
	if err != nil {
		return 0, err
	}
	trainS, err = nz.ApplySequences(trainS)
	if err != nil {
		return 0, err
	}
	valS, err = nz.ApplySequences(valS)
	if err != nil {
		return 0, err
	}

	cfg := model.DefaultGRUConfig()
	cfg.HiddenSize = hiddenSize
	cfg.NumLayers = numLayers
	net, err := model.NewGRU(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return 0, err
	}
	return train.GRU(net, trainS, trainL, valS, valL, nz, opts)
}

func trainMLP(sessions []telemetry.Session, valFrac float64, seed int64, opts train.Options) (float64, error) {
	features, labels := dataset.Frames(sessions)
	log.Printf("Built %d frames", len(features))

	trainF, trainL, valF, valL, err := dataset.Split(features, labels, valFrac, seed)
	if err != nil {
		return 0, err
	}
	log.Printf("Split: %d train, %d validation", len(trainF), len(valF))

	nz, err := dataset.FitNormalizer(trainF)
	if err != nil {
		return 0, err
	}
	trainF, err = nz.ApplyAll(trainF)
	if err != nil {
		return 0, err
	}
	valF, err = nz.ApplyAll(valF)
	if err != nil {
		return 0, err
	}

	net, err := model.NewMLP(model.DefaultMLPConfig(), rand.New(rand.NewSource(seed)))
	if err != nil {
		return 0, err
	}
	return train.MLP(net, trainF, trainL, valF, valL, nz, opts)
}
