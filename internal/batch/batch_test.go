package batch

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paradetect/paradetect/internal/model"
)

// stubPredictor counts calls and always returns the same diagnosis.
type stubPredictor struct {
	label string
}

func (s *stubPredictor) Predict(input []float32) (*model.Diagnosis, error) {
	return &model.Diagnosis{
		Label:      s.label,
		Confidence: 0.9,
		Probabilities: map[string]float32{
			"Uninfected":  0.1,
			"Parasitized": 0.9,
		},
	}, nil
}

func (s *stubPredictor) InputLen() int   { return 3 * 16 * 16 }
func (s *stubPredictor) Backend() string { return "stub" }
func (s *stubPredictor) Close()          {}

func writeImages(t *testing.T, dir string, n int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("cell_%02d.png", i))
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
			t.Fatal(err)
		}
		f.Close()
		paths = append(paths, path)
	}
	return paths
}

func TestPredictFolderOrdered(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, 9)

	// Non-image entries must be skipped.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	results, err := PredictFolder(context.Background(), &stubPredictor{label: "Parasitized"}, dir, 16, 4)
	if err != nil {
		t.Fatalf("PredictFolder failed: %v", err)
	}

	if len(results) != 9 {
		t.Fatalf("Expected 9 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Path != paths[i] {
			t.Errorf("Result %d out of order: %s", i, r.Path)
		}
		if r.Err != nil {
			t.Errorf("Result %d failed: %v", i, r.Err)
		}
		if r.Label != "Parasitized" {
			t.Errorf("Result %d: unexpected label %s", i, r.Label)
		}
	}
}

func TestPredictCarriesPerFileErrors(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, 2)

	bad := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(bad, []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}

	all := append([]string{bad}, paths...)
	results, err := Predict(context.Background(), &stubPredictor{label: "Uninfected"}, all, 16, 2)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if results[0].Err == nil {
		t.Error("Expected error for broken image")
	}
	if results[1].Err != nil || results[2].Err != nil {
		t.Error("Good images should not fail")
	}
}

func TestPredictFolderEmpty(t *testing.T) {
	if _, err := PredictFolder(context.Background(), &stubPredictor{}, t.TempDir(), 16, 1); err == nil {
		t.Error("Expected error for folder without images")
	}
}

func TestPredictCancelled(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Predict(ctx, &stubPredictor{}, paths, 16, 1); err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestWriteCSV(t *testing.T) {
	results := []Result{
		{Path: "a.png", Label: "Uninfected", Confidence: 0.95},
		{Path: "b.png", Err: fmt.Errorf("decode failed")},
	}

	var b strings.Builder
	if err := WriteCSV(results, &b); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "file,diagnosis,confidence" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "0.9500") {
		t.Errorf("Expected formatted confidence, got %s", lines[1])
	}
	if !strings.Contains(lines[2], "ERROR") {
		t.Errorf("Expected ERROR row, got %s", lines[2])
	}
}
