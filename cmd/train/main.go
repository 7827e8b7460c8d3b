package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/paradetect/paradetect/internal/config"
	"github.com/paradetect/paradetect/internal/train"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Path to the cell_images folder (overrides config)")
	epochs := flag.Int("epochs", 15, "Number of epochs")
	batchSize := flag.Int("batch-size", 32, "Batch size")
	saveName := flag.String("save-name", "", "Checkpoint name (default: paradetect_YYYYMMDD_HHMM)")
	clahe := flag.Bool("clahe", false, "Apply CLAHE contrast enhancement to training images")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}

	_, err = train.Run(ctx, train.Options{
		DataDir:    *dataDir,
		ModelDir:   cfg.ModelDir,
		ResultsDir: cfg.ResultsDir,
		SaveName:   *saveName,
		ImageSize:  cfg.ImageSize,
		Epochs:     *epochs,
		BatchSize:  *batchSize,
		UseCLAHE:   *clahe,
	})
	if err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}
