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
	"github.com/paradetect/paradetect/internal/report"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	checkpoint := flag.String("checkpoint", "", "Path to a native checkpoint (overrides config)")
	folder := flag.String("folder", "", "Folder containing smear images")
	output := flag.String("output", "", "Output report file (default: print)")
	workers := flag.Int("workers", 0, "Concurrent prediction workers (default: NumCPU)")
	flag.Parse()

	if *folder == "" {
		fmt.Fprintln(os.Stderr, "Provide -folder")
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

	results, err := batch.PredictFolder(ctx, predictor, *folder, cfg.ImageSize, *workers)
	if err != nil {
		slog.Error("batch prediction failed", "error", err)
		os.Exit(1)
	}

	text := report.Build(*folder, results).Render()
	if *output != "" {
		if err := os.WriteFile(*output, []byte(text), 0644); err != nil {
			slog.Error("failed to write report", "error", err)
			os.Exit(1)
		}
		slog.Info("report saved", "path", *output)
		return
	}
	fmt.Println(text)
}
