package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/paradetect/paradetect/internal/batch"
	"github.com/paradetect/paradetect/internal/config"
	"github.com/paradetect/paradetect/internal/model"
	"github.com/paradetect/paradetect/internal/preprocess"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	checkpoint := flag.String("checkpoint", "", "Path to a native checkpoint (overrides config)")
	imagePath := flag.String("image", "", "Single image to diagnose")
	folder := flag.String("folder", "", "Folder of images to diagnose")
	output := flag.String("output", "", "Output CSV path for batch results")
	workers := flag.Int("workers", 0, "Concurrent prediction workers (default: NumCPU)")
	flag.Parse()

	if *imagePath == "" && *folder == "" {
		fmt.Fprintln(os.Stderr, "Provide -image or -folder")
		flag.Usage()
		os.Exit(2)
	}

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

	predictor, err := model.Open(cfg.ModelPath, cfg.MetadataPath, cfg.CheckpointPath)
	if err != nil {
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	}
	defer predictor.Close()

	if *imagePath != "" {
		input, err := preprocess.FromFile(*imagePath, cfg.ImageSize)
		if err != nil {
			slog.Error("failed to read image", "error", err)
			os.Exit(1)
		}
		d, err := predictor.Predict(input)
		if err != nil {
			slog.Error("prediction failed", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Image: %s\n", *imagePath)
		fmt.Printf("Diagnosis: %s (confidence: %.2f%%)\n", d.Label, 100*d.Confidence)
		for _, class := range model.DefaultClasses {
			fmt.Printf("  %s: %.2f%%\n", class, 100*d.Probabilities[class])
		}
		return
	}

	results, err := batch.PredictFolder(ctx, predictor, *folder, cfg.ImageSize, *workers)
	if err != nil {
		slog.Error("batch prediction failed", "error", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			slog.Error("failed to create output file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	if err := batch.WriteCSV(results, out); err != nil {
		slog.Error("failed to write results", "error", err)
		os.Exit(1)
	}
	if *output != "" {
		slog.Info("results written", "path", *output, "count", len(results))
	}
}
