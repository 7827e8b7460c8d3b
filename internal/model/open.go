package model

import (
	"fmt"
	"os"
)

// Open picks a serving backend: the ONNX model when its file and metadata
// both exist, otherwise a native trainer checkpoint. Returns an error when
// neither artifact is present; demo mode is the caller's decision.
func Open(modelPath, metadataPath, checkpointPath string) (Predictor, error) {
	if fileExists(modelPath) && fileExists(metadataPath) {
		return NewONNX(modelPath, metadataPath)
	}
	if fileExists(checkpointPath) {
		return NewNative(checkpointPath)
	}
	return nil, fmt.Errorf("no model found (tried %s and %s)", modelPath, checkpointPath)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
