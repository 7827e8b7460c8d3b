package model

import (
	"fmt"
	"sync"

	"gorgonia.org/tensor"

	"github.com/paradetect/paradetect/internal/nn"
)

// NativePredictor runs the in-repo CNN from a trainer checkpoint, built
// as a single-sample inference graph with dropout off.
type NativePredictor struct {
	mu       sync.Mutex
	net      *nn.Network
	classes  []string
	inputLen int
	shape    []int
}

// NewNative loads a gob checkpoint and builds the inference network.
func NewNative(checkpointPath string) (*NativePredictor, error) {
	ckpt, err := nn.LoadCheckpointFile(checkpointPath)
	if err != nil {
		return nil, err
	}

	net, err := nn.New(nn.Config{
		ImageSize:  ckpt.ImageSize,
		Channels:   ckpt.Channels,
		NumClasses: ckpt.NumClasses,
		BatchSize:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	if err := net.LoadCheckpoint(ckpt); err != nil {
		net.Close()
		return nil, fmt.Errorf("restore weights: %w", err)
	}

	classes := DefaultClasses
	if ckpt.NumClasses != len(classes) {
		classes = make([]string, ckpt.NumClasses)
		for i := range classes {
			classes[i] = fmt.Sprintf("class_%d", i)
		}
	}

	return &NativePredictor{
		net:      net,
		classes:  classes,
		inputLen: ckpt.Channels * ckpt.ImageSize * ckpt.ImageSize,
		shape:    []int{1, ckpt.Channels, ckpt.ImageSize, ckpt.ImageSize},
	}, nil
}

func (p *NativePredictor) Predict(input []float32) (*Diagnosis, error) {
	if len(input) != p.inputLen {
		return nil, fmt.Errorf("expected %d input values, got %d", p.inputLen, len(input))
	}

	backing := make([]float32, len(input))
	copy(backing, input)
	x := tensor.New(tensor.WithShape(p.shape...), tensor.WithBacking(backing))

	p.mu.Lock()
	probs, err := p.net.Forward(x)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return diagnose(probs, p.classes), nil
}

func (p *NativePredictor) InputLen() int { return p.inputLen }

func (p *NativePredictor) Backend() string { return "native" }

func (p *NativePredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.net != nil {
		p.net.Close()
		p.net = nil
	}
}
