package model

// Class order is diagnostic: index 1 is the positive (infected) class.
var DefaultClasses = []string{"Uninfected", "Parasitized"}

// PositiveIndex is the class index treated as a positive finding.
const PositiveIndex = 1

// Metadata describes an exported ONNX model: tensor shapes, class names,
// and the square image size the model was trained on.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Diagnosis is a single classification result.
type Diagnosis struct {
	Label         string             `json:"label"`
	Confidence    float32            `json:"confidence"`
	Probabilities map[string]float32 `json:"probabilities"`
}

// RawRequest is the body of the raw-array prediction endpoint.
type RawRequest struct {
	Image []float32 `json:"image"`
}

// Predictor classifies a preprocessed image (planar CHW float32 in [0,1]).
// Implementations are safe for concurrent use.
type Predictor interface {
	Predict(input []float32) (*Diagnosis, error)
	// InputLen is the exact number of float values Predict expects.
	InputLen() int
	// Backend names the implementation: "onnx", "native" or "demo".
	Backend() string
	Close()
}

// diagnose turns softmax outputs into a labeled result.
func diagnose(probs []float32, classes []string) *Diagnosis {
	maxIdx := 0
	maxVal := probs[0]
	probabilities := make(map[string]float32, len(classes))

	for i, val := range probs {
		if i < len(classes) {
			probabilities[classes[i]] = val
			if val > maxVal {
				maxVal = val
				maxIdx = i
			}
		}
	}

	return &Diagnosis{
		Label:         classes[maxIdx],
		Confidence:    maxVal,
		Probabilities: probabilities,
	}
}
