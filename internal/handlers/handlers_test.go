package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/paradetect/paradetect/internal/model"
)

type fakePredictor struct {
	backend string
	fail    bool
}

func (f *fakePredictor) Predict(input []float32) (*model.Diagnosis, error) {
	if f.fail {
		return nil, fmt.Errorf("inference exploded")
	}
	return &model.Diagnosis{
		Label:      "Parasitized",
		Confidence: 0.91,
		Probabilities: map[string]float32{
			"Uninfected":  0.09,
			"Parasitized": 0.91,
		},
	}, nil
}

func (f *fakePredictor) InputLen() int { return 3 * 16 * 16 }

func (f *fakePredictor) Backend() string {
	if f.backend == "" {
		return "native"
	}
	return f.backend
}

func (f *fakePredictor) Close() {}

func newTestApp(t *testing.T, p model.Predictor) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    1 << 20,
	})
	New(p, 16, t.TempDir()).Register(app)
	return app
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeJSON(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	return m
}

func TestPredict(t *testing.T) {
	app := newTestApp(t, &fakePredictor{})

	resp, err := app.Test(uploadRequest(t, "image", "cell.png", pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp.Body)
	if body["label"] != "Parasitized" {
		t.Errorf("Expected label Parasitized, got %v", body["label"])
	}
	if _, ok := body["processing_time"]; !ok {
		t.Error("Response missing processing_time")
	}
	if _, ok := body["demo_mode"]; ok {
		t.Error("demo_mode should be omitted on a real backend")
	}

	probs, ok := body["probabilities"].(map[string]interface{})
	if !ok || len(probs) != 2 {
		t.Errorf("Expected two probabilities, got %v", body["probabilities"])
	}
}

func TestPredictDemoFlag(t *testing.T) {
	app := newTestApp(t, &fakePredictor{backend: "demo"})

	resp, err := app.Test(uploadRequest(t, "image", "cell.png", pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp.Body)
	if body["demo_mode"] != true {
		t.Error("Expected demo_mode true")
	}
}

func TestPredictValidation(t *testing.T) {
	app := newTestApp(t, &fakePredictor{})

	t.Run("no file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(""))
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("wrong field name", func(t *testing.T) {
		resp, err := app.Test(uploadRequest(t, "photo", "cell.png", pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("bad extension", func(t *testing.T) {
		resp, err := app.Test(uploadRequest(t, "image", "cell.gif", pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
		body := decodeJSON(t, resp.Body)
		if _, ok := body["error"]; !ok {
			t.Error("Expected error message in body")
		}
	})

	t.Run("corrupt image", func(t *testing.T) {
		resp, err := app.Test(uploadRequest(t, "image", "cell.png", []byte("not a png")))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestPredictOversizedUpload(t *testing.T) {
	// A tiny body limit stands in for the production 10MB cap.
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    256,
	})
	New(&fakePredictor{}, 16, t.TempDir()).Register(app)

	big := make([]byte, 4096)
	resp, err := app.Test(uploadRequest(t, "image", "cell.png", big))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp.Body)
	if body["error"] != "File too large. Maximum size is 10MB." {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty upload dir, found %d entries", len(entries))
	}
}

func TestPredictCleansUpTempFiles(t *testing.T) {
	uploadDir := t.TempDir()
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    1 << 20,
	})
	New(&fakePredictor{}, 16, uploadDir).Register(app)

	t.Run("after success", func(t *testing.T) {
		resp, err := app.Test(uploadRequest(t, "image", "cell.png", pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		assertDirEmpty(t, uploadDir)
	})

	t.Run("after decode failure", func(t *testing.T) {
		resp, err := app.Test(uploadRequest(t, "image", "cell.png", []byte("not a png")))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", resp.StatusCode)
		}
		assertDirEmpty(t, uploadDir)
	})
}

func TestPredictFailureCleansUpTempFiles(t *testing.T) {
	uploadDir := t.TempDir()
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    1 << 20,
	})
	New(&fakePredictor{fail: true}, 16, uploadDir).Register(app)

	resp, err := app.Test(uploadRequest(t, "image", "cell.png", pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	assertDirEmpty(t, uploadDir)
}

func TestPredictFailure(t *testing.T) {
	app := newTestApp(t, &fakePredictor{fail: true})

	resp, err := app.Test(uploadRequest(t, "image", "cell.png", pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
}

func TestPredictRaw(t *testing.T) {
	app := newTestApp(t, &fakePredictor{})

	payload := model.RawRequest{Image: make([]float32, 3*16*16)}
	data, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/predict/raw", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp.Body)
	if body["label"] != "Parasitized" {
		t.Errorf("Expected label, got %v", body["label"])
	}
}

func TestPredictRawWrongLength(t *testing.T) {
	app := newTestApp(t, &fakePredictor{})

	data, _ := json.Marshal(model.RawRequest{Image: []float32{1, 2, 3}})
	req := httptest.NewRequest(http.MethodPost, "/api/predict/raw", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, &fakePredictor{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp.Body)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}
	if body["model_loaded"] != true {
		t.Errorf("Expected model_loaded true, got %v", body["model_loaded"])
	}
	if body["backend"] != "native" {
		t.Errorf("Expected backend native, got %v", body["backend"])
	}
}

func TestHealthDemoMode(t *testing.T) {
	app := newTestApp(t, &fakePredictor{backend: "demo"})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp.Body)
	if body["demo_mode"] != true || body["model_loaded"] != false {
		t.Errorf("Expected demo mode health, got %v", body)
	}
}
