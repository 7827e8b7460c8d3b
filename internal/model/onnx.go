package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXPredictor serves a pretrained model through ONNX Runtime with
// persistent input/output tensors. Session tensors are shared state, so
// runs are serialized with a mutex.
type ONNXPredictor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputLen     int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNX loads the model and its metadata JSON and creates a session.
func NewONNX(modelPath, metadataPath string) (*ONNXPredictor, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if len(metadata.Classes) == 0 {
		metadata.Classes = DefaultClasses
	}

	inputLen := 1
	for _, dim := range metadata.InputShape {
		inputLen *= int(dim)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &ONNXPredictor{
		session:      session,
		Metadata:     metadata,
		inputLen:     inputLen,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (p *ONNXPredictor) Predict(input []float32) (*Diagnosis, error) {
	if len(input) != p.inputLen {
		return nil, fmt.Errorf("expected %d input values, got %d", p.inputLen, len(input))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.inputTensor.GetData(), input)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return diagnose(p.outputTensor.GetData(), p.Metadata.Classes), nil
}

func (p *ONNXPredictor) InputLen() int { return p.inputLen }

func (p *ONNXPredictor) Backend() string { return "onnx" }

func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
	if p.session != nil {
		p.session.Destroy()
	}
	ort.DestroyEnvironment()
}
