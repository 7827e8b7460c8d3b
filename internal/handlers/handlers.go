// Package handlers exposes the screening API: image prediction, a raw
// float-array prediction endpoint, and health.
package handlers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/paradetect/paradetect/internal/dataset"
	"github.com/paradetect/paradetect/internal/model"
	"github.com/paradetect/paradetect/internal/preprocess"
	"github.com/paradetect/paradetect/internal/system"
)

// Handler wires the predictor into the HTTP surface.
type Handler struct {
	predictor model.Predictor
	imageSize int
	uploadDir string
	started   time.Time
}

func New(p model.Predictor, imageSize int, uploadDir string) *Handler {
	return &Handler{
		predictor: p,
		imageSize: imageSize,
		uploadDir: uploadDir,
		started:   time.Now(),
	}
}

// Register mounts the API routes.
func (h *Handler) Register(app *fiber.App) {
	app.Post("/api/predict", h.Predict)
	app.Post("/api/predict/raw", h.PredictRaw)
	app.Get("/api/health", h.Health)
}

type predictResponse struct {
	Label          string             `json:"label"`
	Confidence     float32            `json:"confidence"`
	Probabilities  map[string]float32 `json:"probabilities"`
	ProcessingTime float64            `json:"processing_time"`
	Timestamp      string             `json:"timestamp"`
	DemoMode       bool               `json:"demo_mode,omitempty"`
}

func (h *Handler) respond(c *fiber.Ctx, d *model.Diagnosis, start time.Time) error {
	return c.JSON(predictResponse{
		Label:          d.Label,
		Confidence:     d.Confidence,
		Probabilities:  d.Probabilities,
		ProcessingTime: float64(time.Since(start).Round(time.Millisecond)) / float64(time.Second),
		Timestamp:      time.Now().Format(time.RFC3339),
		DemoMode:       h.predictor.Backend() == "demo",
	})
}

// Predict handles multipart image uploads. The file is saved under a
// unique name, classified, and always removed afterwards.
func (h *Handler) Predict(c *fiber.Ctx) error {
	start := time.Now()

	file, err := c.FormFile("image")
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, "No image uploaded")
	}
	if file.Filename == "" {
		return respondError(c, fiber.StatusBadRequest, "Empty filename")
	}
	if !dataset.HasImageExt(file.Filename) {
		return respondError(c, fiber.StatusBadRequest,
			"Invalid file format. Please upload PNG, JPG, or JPEG files.")
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Could not prepare upload directory")
	}
	tempPath := filepath.Join(h.uploadDir, uuid.New().String()+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Could not save uploaded file")
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil {
			slog.Warn("failed to remove temp file", "path", tempPath, "error", err)
		}
	}()

	input, err := preprocess.FromFile(tempPath, h.imageSize)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid image. Supported formats: PNG, JPEG")
	}

	d, err := h.predictor.Predict(input)
	if err != nil {
		slog.Error("prediction failed", "file", file.Filename, "error", err)
		return respondError(c, fiber.StatusInternalServerError, "Prediction failed")
	}

	return h.respond(c, d, start)
}

// PredictRaw accepts a preprocessed float array, for clients that do
// their own image handling.
func (h *Handler) PredictRaw(c *fiber.Ctx) error {
	start := time.Now()

	var req model.RawRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid JSON")
	}

	if len(req.Image) != h.predictor.InputLen() {
		return respondError(c, fiber.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", h.predictor.InputLen(), len(req.Image)))
	}

	d, err := h.predictor.Predict(req.Image)
	if err != nil {
		slog.Error("prediction failed", "error", err)
		return respondError(c, fiber.StatusInternalServerError, "Prediction failed")
	}

	return h.respond(c, d, start)
}

// Health reports model status and process stats.
func (h *Handler) Health(c *fiber.Ctx) error {
	stats := system.Collect(h.started)
	demo := h.predictor.Backend() == "demo"

	return c.JSON(fiber.Map{
		"status":         "healthy",
		"model_loaded":   !demo,
		"backend":        h.predictor.Backend(),
		"demo_mode":      demo,
		"uptime_seconds": stats.UptimeSeconds,
		"rss_bytes":      stats.RSSBytes,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func respondError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// ErrorHandler maps fiber errors to the API's JSON error shape, keeping
// the original app's oversized-upload message.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code == fiber.StatusRequestEntityTooLarge {
		return respondError(c, code, "File too large. Maximum size is 10MB.")
	}
	if code == fiber.StatusInternalServerError {
		slog.Error("internal server error", "error", err)
		return respondError(c, code, "Internal server error occurred")
	}
	return respondError(c, code, err.Error())
}
