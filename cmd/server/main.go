package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/paradetect/paradetect/internal/config"
	"github.com/paradetect/paradetect/internal/handlers"
	"github.com/paradetect/paradetect/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	predictor, err := model.Open(cfg.ModelPath, cfg.MetadataPath, cfg.CheckpointPath)
	if err != nil {
		slog.Warn("no trained model available, running in demo mode", "error", err)
		predictor = model.NewDemo(cfg.ImageSize, 500*time.Millisecond, 1500*time.Millisecond)
	}
	defer predictor.Close()
	// The ONNX metadata is authoritative for the input size.
	if op, ok := predictor.(*model.ONNXPredictor); ok && op.Metadata.ImageSize > 0 {
		cfg.ImageSize = op.Metadata.ImageSize
	}
	slog.Info("predictor ready", "backend", predictor.Backend())

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.MaxUploadBytes,
		ErrorHandler: handlers.ErrorHandler,
	})
	app.Use(logger.New())
	app.Use(cors.New())

	handlers.New(predictor, cfg.ImageSize, cfg.UploadDir).Register(app)
	app.Static("/", cfg.StaticDir)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "static", cfg.StaticDir)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
