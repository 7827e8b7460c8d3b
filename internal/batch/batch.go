// Package batch runs a predictor over many images concurrently while
// keeping results in input order.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/paradetect/paradetect/internal/dataset"
	"github.com/paradetect/paradetect/internal/model"
	"github.com/paradetect/paradetect/internal/preprocess"
)

// Result is the outcome for one file. Err is set for unreadable or
// undecodable images; such entries do not abort the batch.
type Result struct {
	Path          string
	Label         string
	Confidence    float32
	Probabilities map[string]float32
	Err           error
}

// Predict classifies paths with up to workers goroutines. The returned
// slice is parallel to paths. Only context cancellation aborts the run.
func Predict(ctx context.Context, p model.Predictor, paths []string, imageSize, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = predictOne(p, path, imageSize)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func predictOne(p model.Predictor, path string, imageSize int) Result {
	r := Result{Path: path}

	input, err := preprocess.FromFile(path, imageSize)
	if err != nil {
		r.Err = err
		return r
	}

	d, err := p.Predict(input)
	if err != nil {
		r.Err = err
		return r
	}

	r.Label = d.Label
	r.Confidence = d.Confidence
	r.Probabilities = d.Probabilities
	return r
}

// PredictFolder classifies every image directly under folder, in sorted
// filename order.
func PredictFolder(ctx context.Context, p model.Predictor, folder string, imageSize, workers int) ([]Result, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !dataset.HasImageExt(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(folder, e.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", folder)
	}

	return Predict(ctx, p, paths, imageSize, workers)
}

// WriteCSV emits results as file,diagnosis,confidence rows. Failed files
// get a diagnosis of ERROR with the message in the confidence column.
func WriteCSV(results []Result, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"file", "diagnosis", "confidence"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{r.Path, r.Label, fmt.Sprintf("%.4f", r.Confidence)}
		if r.Err != nil {
			row = []string{r.Path, "ERROR", r.Err.Error()}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
