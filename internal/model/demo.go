package model

import (
	"math/rand"
	"sync"
	"time"
)

// DemoPredictor simulates diagnoses when no trained model is available,
// so the frontend stays usable. Responses are flagged by the handlers.
type DemoPredictor struct {
	mu       sync.Mutex
	rng      *rand.Rand
	minDelay time.Duration
	maxDelay time.Duration
	inputLen int
}

// NewDemo creates a simulated predictor for images of the given size.
// Delays bound the fake processing time; pass zeros to disable.
func NewDemo(imageSize int, minDelay, maxDelay time.Duration) *DemoPredictor {
	return &DemoPredictor{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		minDelay: minDelay,
		maxDelay: maxDelay,
		inputLen: 3 * imageSize * imageSize,
	}
}

func (p *DemoPredictor) Predict(_ []float32) (*Diagnosis, error) {
	p.mu.Lock()
	delay := p.minDelay
	if p.maxDelay > p.minDelay {
		delay += time.Duration(p.rng.Int63n(int64(p.maxDelay - p.minDelay)))
	}

	// 30% of simulated smears come back positive.
	var uninfected float32
	if p.rng.Float64() < 0.3 {
		uninfected = 1.0 - (0.65 + 0.30*p.rng.Float32())
	} else {
		uninfected = 0.70 + 0.28*p.rng.Float32()
	}
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	return diagnose([]float32{uninfected, 1.0 - uninfected}, DefaultClasses), nil
}

func (p *DemoPredictor) InputLen() int { return p.inputLen }

func (p *DemoPredictor) Backend() string { return "demo" }

func (p *DemoPredictor) Close() {}
