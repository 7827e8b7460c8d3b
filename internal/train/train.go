// Package train drives the full training pipeline: dataset loading,
// class weighting, the epoch loop with validation, checkpointing, early
// stopping, and learning-rate reduction on plateau.
package train

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"gorgonia.org/gorgonia"

	"github.com/paradetect/paradetect/internal/dataset"
	"github.com/paradetect/paradetect/internal/model"
	"github.com/paradetect/paradetect/internal/nn"
	"github.com/paradetect/paradetect/internal/system"
)

// Options configures a training run. Zero values take the defaults the
// model was tuned with.
type Options struct {
	DataDir    string
	ModelDir   string
	ResultsDir string
	SaveName   string

	ImageSize int
	Epochs    int
	BatchSize int
	ValSplit  float64
	Seed      int64

	LearnRate float64
	Dropout   float64
	UseCLAHE  bool

	// EarlyStopPatience is epochs without val-loss improvement before
	// stopping; LRPatience before halving the learning rate.
	EarlyStopPatience int
	LRPatience        int
	LRFactor          float64
	MinLR             float64
}

func (o *Options) setDefaults() {
	if o.ImageSize == 0 {
		o.ImageSize = 128
	}
	if o.Epochs == 0 {
		o.Epochs = 15
	}
	if o.BatchSize == 0 {
		o.BatchSize = 32
	}
	if o.ValSplit == 0 {
		o.ValSplit = 0.2
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.LearnRate == 0 {
		o.LearnRate = 1e-3
	}
	if o.Dropout == 0 {
		o.Dropout = 0.4
	}
	if o.EarlyStopPatience == 0 {
		o.EarlyStopPatience = 4
	}
	if o.LRPatience == 0 {
		o.LRPatience = 2
	}
	if o.LRFactor == 0 {
		o.LRFactor = 0.5
	}
	if o.MinLR == 0 {
		o.MinLR = 1e-6
	}
	if o.SaveName == "" {
		o.SaveName = "paradetect_" + time.Now().Format("20060102_1504")
	}
}

// History records per-epoch metrics, written alongside the checkpoint.
type History struct {
	Loss        []float64 `json:"loss"`
	ValLoss     []float64 `json:"val_loss"`
	ValAccuracy []float64 `json:"val_accuracy"`
	LearnRate   []float64 `json:"lr"`
}

// Run trains the network and returns the history. The best checkpoint by
// validation accuracy is left at <ModelDir>/<SaveName>.ckpt.
func Run(ctx context.Context, opts Options) (*History, error) {
	opts.setDefaults()

	ds, err := dataset.Scan(opts.DataDir, model.DefaultClasses)
	if err != nil {
		return nil, err
	}
	trainSet, valSet := ds.Split(opts.ValSplit, opts.Seed)
	weights := trainSet.ClassWeights()

	slog.Info("dataset loaded",
		"total", len(ds.Samples),
		"train", len(trainSet.Samples),
		"val", len(valSet.Samples),
		"class_weights", fmt.Sprintf("%.3v", weights))

	trainLoader, err := dataset.NewLoader(trainSet, dataset.BatchOptions{
		ImageSize:    opts.ImageSize,
		BatchSize:    opts.BatchSize,
		Augment:      true,
		CLAHE:        opts.UseCLAHE,
		ClassWeights: weights,
		Seed:         opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	valLoader, err := dataset.NewLoader(valSet, dataset.BatchOptions{
		ImageSize: opts.ImageSize,
		BatchSize: opts.BatchSize,
		CLAHE:     opts.UseCLAHE,
	})
	if err != nil {
		return nil, err
	}
	if trainLoader.NumBatches() == 0 || valLoader.NumBatches() == 0 {
		return nil, fmt.Errorf("dataset too small for batch size %d", opts.BatchSize)
	}

	trainNet, err := nn.New(nn.Config{
		ImageSize:  opts.ImageSize,
		NumClasses: len(model.DefaultClasses),
		BatchSize:  opts.BatchSize,
		Dropout:    opts.Dropout,
		Training:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("build training network: %w", err)
	}
	defer trainNet.Close()

	// Separate dropout-free network for validation passes.
	valNet, err := nn.New(nn.Config{
		ImageSize:  opts.ImageSize,
		NumClasses: len(model.DefaultClasses),
		BatchSize:  opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("build validation network: %w", err)
	}
	defer valNet.Close()

	if err := os.MkdirAll(opts.ModelDir, 0755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	if err := os.MkdirAll(opts.ResultsDir, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	ckptPath := filepath.Join(opts.ModelDir, opts.SaveName+".ckpt")

	lr := opts.LearnRate
	solver := newSolver(lr, opts.BatchSize)

	history := &History{}
	bestValAcc := -1.0
	bestValLoss := math.Inf(1)
	sinceImproved := 0
	sinceLRDrop := 0
	start := time.Now()

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		epochStart := time.Now()
		trainLoss, err := runEpoch(ctx, trainNet, trainLoader, solver)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if err := trainNet.CopyWeightsTo(valNet); err != nil {
			return history, fmt.Errorf("sync validation weights: %w", err)
		}
		valLoss, valAcc, err := validate(ctx, valNet, valLoader)
		if err != nil {
			return history, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		history.Loss = append(history.Loss, trainLoss)
		history.ValLoss = append(history.ValLoss, valLoss)
		history.ValAccuracy = append(history.ValAccuracy, valAcc)
		history.LearnRate = append(history.LearnRate, lr)

		stats := system.Collect(start)
		slog.Info("epoch complete",
			"epoch", epoch,
			"loss", fmt.Sprintf("%.4f", trainLoss),
			"val_loss", fmt.Sprintf("%.4f", valLoss),
			"val_accuracy", fmt.Sprintf("%.4f", valAcc),
			"lr", lr,
			"elapsed", time.Since(epochStart).Round(time.Second),
			"rss_mb", stats.RSSBytes/(1<<20))

		if valAcc > bestValAcc {
			bestValAcc = valAcc
			ckpt, err := trainNet.Checkpoint()
			if err != nil {
				return history, fmt.Errorf("snapshot weights: %w", err)
			}
			if err := ckpt.Save(ckptPath); err != nil {
				return history, err
			}
			slog.Info("checkpoint saved", "path", ckptPath, "val_accuracy", fmt.Sprintf("%.4f", valAcc))
		}

		if valLoss < bestValLoss {
			bestValLoss = valLoss
			sinceImproved = 0
			sinceLRDrop = 0
		} else {
			sinceImproved++
			sinceLRDrop++
		}

		if sinceImproved >= opts.EarlyStopPatience {
			slog.Info("early stopping", "epoch", epoch, "best_val_loss", fmt.Sprintf("%.4f", bestValLoss))
			break
		}
		if sinceLRDrop >= opts.LRPatience && lr > opts.MinLR {
			lr = math.Max(lr*opts.LRFactor, opts.MinLR)
			// Gorgonia solvers expose no learning-rate setter; rebuilding
			// Adam resets its moment estimates.
			solver = newSolver(lr, opts.BatchSize)
			sinceLRDrop = 0
			slog.Info("reducing learning rate", "lr", lr)
		}
	}

	historyPath := filepath.Join(opts.ResultsDir, "history_"+opts.SaveName+".json")
	if err := writeHistory(history, historyPath); err != nil {
		return history, err
	}
	slog.Info("training finished",
		"best_val_accuracy", fmt.Sprintf("%.4f", bestValAcc),
		"checkpoint", ckptPath,
		"history", historyPath,
		"elapsed", time.Since(start).Round(time.Second))

	return history, nil
}

func newSolver(lr float64, batchSize int) gorgonia.Solver {
	return gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(lr),
		gorgonia.WithBatchSize(float64(batchSize)),
	)
}

func runEpoch(ctx context.Context, net *nn.Network, loader *dataset.Loader, solver gorgonia.Solver) (float64, error) {
	loader.Reset(true)

	var total float64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		loss, err := net.TrainStep(b.X, b.Y, solver)
		if err != nil {
			return 0, err
		}
		total += loss
		batches++
	}

	if batches == 0 {
		return 0, fmt.Errorf("no training batches")
	}
	return total / float64(batches), nil
}

// validate computes cross-entropy loss and accuracy over the validation
// loader with the dropout-free network.
func validate(ctx context.Context, net *nn.Network, loader *dataset.Loader) (loss, acc float64, err error) {
	loader.Reset(false)

	numClasses := len(model.DefaultClasses)
	var totalLoss float64
	correct, seen := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		b, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}

		probs, err := net.Forward(b.X)
		if err != nil {
			return 0, 0, err
		}

		for i, label := range b.Labels {
			row := probs[i*numClasses : (i+1)*numClasses]

			p := float64(row[label])
			if p < 1e-12 {
				p = 1e-12
			}
			totalLoss += -math.Log(p)

			pred := 0
			for c := 1; c < numClasses; c++ {
				if row[c] > row[pred] {
					pred = c
				}
			}
			if pred == label {
				correct++
			}
			seen++
		}
	}

	if seen == 0 {
		return 0, 0, fmt.Errorf("no validation batches")
	}
	return totalLoss / float64(seen), float64(correct) / float64(seen), nil
}

func writeHistory(h *History, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create history: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return nil
}
