package dataset

import (
	"fmt"
	"image"
	"io"
	"math/rand"
	"os"

	"gorgonia.org/tensor"

	"github.com/paradetect/paradetect/internal/preprocess"
)

// BatchOptions controls how samples are assembled into tensors.
type BatchOptions struct {
	ImageSize int
	BatchSize int
	// Augment applies random flips; training only.
	Augment bool
	// CLAHE enhances contrast before resizing.
	CLAHE bool
	// ClassWeights, when set, scale the one-hot labels so the loss
	// weighs minority classes up.
	ClassWeights []float32
	Seed         int64
}

// Batch is one mini-batch: X is (batch, 3, size, size), Y is
// (batch, classes) one-hot.
type Batch struct {
	X    tensor.Tensor
	Y    tensor.Tensor
	Size int
	// Labels are the integer class labels, parallel to the batch rows.
	Labels []int
}

// Loader streams mini-batches from disk. Incomplete trailing batches are
// dropped because the graph is compiled for a fixed batch size.
type Loader struct {
	ds    *Dataset
	opts  BatchOptions
	order []int
	pos   int
	rng   *rand.Rand
}

// NewLoader prepares a loader over the dataset.
func NewLoader(ds *Dataset, opts BatchOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", opts.ImageSize)
	}

	order := make([]int, len(ds.Samples))
	for i := range order {
		order[i] = i
	}
	return &Loader{
		ds:    ds,
		opts:  opts,
		order: order,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// NumBatches is the number of full batches per pass.
func (l *Loader) NumBatches() int {
	return len(l.ds.Samples) / l.opts.BatchSize
}

// Reset rewinds the loader, optionally reshuffling the sample order.
func (l *Loader) Reset(shuffle bool) {
	l.pos = 0
	if shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
}

// Next loads the next full batch, or io.EOF when the pass is done.
func (l *Loader) Next() (*Batch, error) {
	bs := l.opts.BatchSize
	if l.pos+bs > len(l.order) {
		return nil, io.EOF
	}

	size := l.opts.ImageSize
	plane := preprocess.Channels * size * size
	numClasses := len(l.ds.Classes)

	xData := make([]float32, bs*plane)
	yData := make([]float32, bs*numClasses)
	labels := make([]int, bs)

	for i := 0; i < bs; i++ {
		s := l.ds.Samples[l.order[l.pos+i]]

		img, err := l.loadImage(s.Path)
		if err != nil {
			return nil, err
		}
		copy(xData[i*plane:(i+1)*plane], preprocess.FromImage(img, size))

		labels[i] = s.Label
		w := float32(1)
		if l.opts.ClassWeights != nil {
			w = l.opts.ClassWeights[s.Label]
		}
		yData[i*numClasses+s.Label] = w
	}
	l.pos += bs

	return &Batch{
		X:      tensor.New(tensor.WithShape(bs, preprocess.Channels, size, size), tensor.WithBacking(xData)),
		Y:      tensor.New(tensor.WithShape(bs, numClasses), tensor.WithBacking(yData)),
		Size:   bs,
		Labels: labels,
	}, nil
}

func (l *Loader) loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", path, err)
	}

	if l.opts.CLAHE {
		img = preprocess.CLAHE(img, 2.0, 8)
	}
	if l.opts.Augment {
		img = preprocess.Augment(img, l.rng)
	}
	return img, nil
}
