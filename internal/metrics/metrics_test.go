package metrics

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var classes = []string{"Uninfected", "Parasitized"}

func TestEvaluatePerfect(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	yPred := []int{0, 0, 1, 1}
	scores := []float64{0.1, 0.2, 0.9, 0.8}

	s, err := Evaluate(yTrue, yPred, scores, classes, 1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if s.Accuracy != 1.0 {
		t.Errorf("Expected accuracy 1.0, got %f", s.Accuracy)
	}
	if s.WeightedF1 != 1.0 {
		t.Errorf("Expected weighted F1 1.0, got %f", s.WeightedF1)
	}
	if s.AUC != 1.0 {
		t.Errorf("Expected AUC 1.0, got %f", s.AUC)
	}
	if s.Confusion[0][0] != 2 || s.Confusion[1][1] != 2 {
		t.Errorf("Unexpected confusion matrix: %v", s.Confusion)
	}
}

func TestEvaluateMixed(t *testing.T) {
	// 1 false negative, 1 false positive out of 6.
	yTrue := []int{0, 0, 0, 1, 1, 1}
	yPred := []int{0, 0, 1, 1, 1, 0}

	s, err := Evaluate(yTrue, yPred, nil, classes, 1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if math.Abs(s.Accuracy-4.0/6.0) > 1e-9 {
		t.Errorf("Expected accuracy 0.667, got %f", s.Accuracy)
	}
	// Class 1: tp=2, fp=1, fn=1 -> precision 2/3, recall 2/3.
	if math.Abs(s.Precision[1]-2.0/3.0) > 1e-9 {
		t.Errorf("Expected precision 0.667 for positive class, got %f", s.Precision[1])
	}
	if math.Abs(s.Recall[1]-2.0/3.0) > 1e-9 {
		t.Errorf("Expected recall 0.667 for positive class, got %f", s.Recall[1])
	}
	if s.Support[0] != 3 || s.Support[1] != 3 {
		t.Errorf("Unexpected support: %v", s.Support)
	}
	if s.Confusion[1][0] != 1 {
		t.Errorf("Expected 1 false negative, got %d", s.Confusion[1][0])
	}
}

func TestEvaluateLengthMismatch(t *testing.T) {
	if _, err := Evaluate([]int{0, 1}, []int{0}, nil, classes, 1); err == nil {
		t.Error("Expected error for length mismatch")
	}
	if _, err := Evaluate(nil, nil, nil, classes, 1); err == nil {
		t.Error("Expected error for empty set")
	}
}

func TestROCAUC(t *testing.T) {
	// Separable scores give AUC 1; inverted give 0; random-ish in between.
	yTrue := []int{0, 0, 1, 1}

	if auc := ROCAUC(yTrue, []float64{0.1, 0.2, 0.8, 0.9}, 1); auc != 1.0 {
		t.Errorf("Expected AUC 1.0, got %f", auc)
	}
	if auc := ROCAUC(yTrue, []float64{0.9, 0.8, 0.2, 0.1}, 1); auc != 0.0 {
		t.Errorf("Expected AUC 0.0, got %f", auc)
	}

	// All scores tied: AUC 0.5.
	if auc := ROCAUC(yTrue, []float64{0.5, 0.5, 0.5, 0.5}, 1); math.Abs(auc-0.5) > 1e-9 {
		t.Errorf("Expected AUC 0.5 for tied scores, got %f", auc)
	}

	// Degenerate single-class set.
	if auc := ROCAUC([]int{1, 1}, []float64{0.5, 0.6}, 1); auc != 0 {
		t.Errorf("Expected AUC 0 for single-class set, got %f", auc)
	}
}

func TestClassificationReport(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	yPred := []int{0, 1, 1, 1}
	s, err := Evaluate(yTrue, yPred, nil, classes, 1)
	if err != nil {
		t.Fatal(err)
	}

	report := s.ClassificationReport()
	for _, want := range []string{"Uninfected", "Parasitized", "precision", "recall", "accuracy", "weighted avg"} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}
}

func TestRenderConfusionPNG(t *testing.T) {
	cm := [][]int{{40, 3}, {5, 52}}
	path := filepath.Join(t.TempDir(), "cm.png")

	if err := RenderConfusionPNG(cm, classes, path); err != nil {
		t.Fatalf("RenderConfusionPNG failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() < 2*96 || img.Bounds().Dy() < 2*96 {
		t.Errorf("Plot too small: %v", img.Bounds())
	}
}

func TestRenderConfusionPNGBadInput(t *testing.T) {
	if err := RenderConfusionPNG(nil, classes, "/tmp/x.png"); err == nil {
		t.Error("Expected error for empty matrix")
	}
}
