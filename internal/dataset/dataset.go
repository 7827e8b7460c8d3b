// Package dataset loads labeled smear images from the conventional
// class-folder layout:
//
//	data/cell_images/Uninfected/*.png
//	data/cell_images/Parasitized/*.png
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions accepted when scanning class folders and upload requests.
var Extensions = []string{".png", ".jpg", ".jpeg"}

// Sample is one labeled image on disk.
type Sample struct {
	Path  string
	Label int
}

// Dataset is an ordered collection of labeled samples.
type Dataset struct {
	Samples []Sample
	Classes []string
}

// HasImageExt reports whether the filename has an accepted extension,
// case-insensitively.
func HasImageExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Scan walks the class folders under root. Every class folder must exist;
// an empty dataset is an error.
func Scan(root string, classes []string) (*Dataset, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("data directory not found: %s", root)
	}

	ds := &Dataset{Classes: classes}
	for label, class := range classes {
		dir := filepath.Join(root, class)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("class folder %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !HasImageExt(e.Name()) {
				continue
			}
			ds.Samples = append(ds.Samples, Sample{
				Path:  filepath.Join(dir, e.Name()),
				Label: label,
			})
		}
	}

	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("no images found under %s", root)
	}

	sort.Slice(ds.Samples, func(i, j int) bool {
		return ds.Samples[i].Path < ds.Samples[j].Path
	})
	return ds, nil
}

// Split shuffles deterministically and carves off valFrac of the samples
// as a validation set.
func (d *Dataset) Split(valFrac float64, seed int64) (train, val *Dataset) {
	shuffled := make([]Sample, len(d.Samples))
	copy(shuffled, d.Samples)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(float64(len(shuffled)) * valFrac)
	val = &Dataset{Samples: shuffled[:nVal], Classes: d.Classes}
	train = &Dataset{Samples: shuffled[nVal:], Classes: d.Classes}
	return train, val
}

// Counts returns the number of samples per class.
func (d *Dataset) Counts() []int {
	counts := make([]int, len(d.Classes))
	for _, s := range d.Samples {
		counts[s.Label]++
	}
	return counts
}

// ClassWeights computes total/(numClasses*count) per class to compensate
// for imbalance. A class with no samples gets weight 1.
func (d *Dataset) ClassWeights() []float32 {
	counts := d.Counts()
	total := len(d.Samples)

	weights := make([]float32, len(counts))
	for i, c := range counts {
		if c > 0 {
			weights[i] = float32(total) / (float32(len(counts)) * float32(c))
		} else {
			weights[i] = 1
		}
	}
	return weights
}
