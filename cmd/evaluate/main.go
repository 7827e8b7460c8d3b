package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/paradetect/paradetect/internal/batch"
	"github.com/paradetect/paradetect/internal/config"
	"github.com/paradetect/paradetect/internal/dataset"
	"github.com/paradetect/paradetect/internal/metrics"
	"github.com/paradetect/paradetect/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	checkpoint := flag.String("checkpoint", "", "Path to a native checkpoint (overrides config)")
	dataDir := flag.String("data-dir", "", "Path to the cell_images folder (overrides config)")
	outputDir := flag.String("output-dir", "", "Where to save the report and plot (overrides config)")
	workers := flag.Int("workers", 0, "Concurrent prediction workers (default: NumCPU)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *checkpoint != "" {
		cfg.CheckpointPath = *checkpoint
		cfg.ModelPath = ""
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *outputDir != "" {
		cfg.ResultsDir = *outputDir
	}

	predictor, err := model.Open(cfg.ModelPath, cfg.MetadataPath, cfg.CheckpointPath)
	if err != nil {
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	}
	defer predictor.Close()

	slog.Info("loading validation data", "data_dir", cfg.DataDir)
	ds, err := dataset.Scan(cfg.DataDir, model.DefaultClasses)
	if err != nil {
		slog.Error("failed to load dataset", "error", err)
		os.Exit(1)
	}
	_, valSet := ds.Split(0.2, 42)

	paths := make([]string, len(valSet.Samples))
	yTrue := make([]int, len(valSet.Samples))
	for i, s := range valSet.Samples {
		paths[i] = s.Path
		yTrue[i] = s.Label
	}

	slog.Info("running evaluation", "samples", len(paths), "backend", predictor.Backend())
	results, err := batch.Predict(ctx, predictor, paths, cfg.ImageSize, *workers)
	if err != nil {
		slog.Error("evaluation failed", "error", err)
		os.Exit(1)
	}

	var cleanTrue, cleanPred []int
	var scores []float64
	positive := model.DefaultClasses[model.PositiveIndex]
	skipped := 0
	for i, r := range results {
		if r.Err != nil {
			skipped++
			continue
		}
		pred := 0
		if r.Label == positive {
			pred = model.PositiveIndex
		}
		cleanTrue = append(cleanTrue, yTrue[i])
		cleanPred = append(cleanPred, pred)
		scores = append(scores, float64(r.Probabilities[positive]))
	}
	if skipped > 0 {
		slog.Warn("skipped unreadable images", "count", skipped)
	}

	summary, err := metrics.Evaluate(cleanTrue, cleanPred, scores, model.DefaultClasses, model.PositiveIndex)
	if err != nil {
		slog.Error("metric computation failed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("ParaDetect - Model Accuracy Analysis")
	fmt.Printf("Accuracy:      %.2f%%\n", 100*summary.Accuracy)
	fmt.Printf("Precision:     %.4f\n", summary.WeightedPrecision)
	fmt.Printf("Recall:        %.4f\n", summary.WeightedRecall)
	fmt.Printf("F1 (weighted): %.4f\n", summary.WeightedF1)
	fmt.Printf("ROC AUC:       %.4f\n", summary.AUC)
	fmt.Println()
	fmt.Println(summary.ClassificationReport())

	if err := os.MkdirAll(cfg.ResultsDir, 0755); err != nil {
		slog.Error("failed to create results dir", "error", err)
		os.Exit(1)
	}

	reportPath := filepath.Join(cfg.ResultsDir, "evaluation_report.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		slog.Error("failed to encode report", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		slog.Error("failed to write report", "error", err)
		os.Exit(1)
	}
	slog.Info("report saved", "path", reportPath)

	plotPath := filepath.Join(cfg.ResultsDir, "confusion_matrix.png")
	if err := metrics.RenderConfusionPNG(summary.Confusion, model.DefaultClasses, plotPath); err != nil {
		slog.Error("failed to render confusion matrix", "error", err)
		os.Exit(1)
	}
	slog.Info("confusion matrix saved", "path", plotPath)
}
